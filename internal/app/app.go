// Package app wires the archive components from a loaded configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joseph-ayodele/werkstatt-archive/internal/common"
	"github.com/joseph-ayodele/werkstatt-archive/internal/export"
	"github.com/joseph-ayodele/werkstatt-archive/internal/extract"
	"github.com/joseph-ayodele/werkstatt-archive/internal/merge"
	"github.com/joseph-ayodele/werkstatt-archive/internal/ocr"
	"github.com/joseph-ayodele/werkstatt-archive/internal/patterns"
	"github.com/joseph-ayodele/werkstatt-archive/internal/pipeline"
	"github.com/joseph-ayodele/werkstatt-archive/internal/registry"
	repo "github.com/joseph-ayodele/werkstatt-archive/internal/repository"
	"github.com/joseph-ayodele/werkstatt-archive/internal/resolver"
	"github.com/joseph-ayodele/werkstatt-archive/internal/router"
)

// App holds every wired component of one archive instance.
type App struct {
	Config *common.Config
	Logger *slog.Logger

	DB        *repo.DB
	Documents repo.DocumentRepository
	Pending   repo.PendingRepository

	Customers *registry.CustomerRegistry
	Vehicles  *registry.VehicleIndex
	Patterns  *patterns.Library
	Router    *router.Router
	Legacy    *resolver.LegacyResolver
	Manual    *resolver.ManualResolver
	Cascade   *merge.Cascade
	Processor *pipeline.Processor
	Export    *export.Service
}

type options struct {
	text  extract.TextExtractor
	mover router.FileMover
}

type Option func(*options)

// WithTextExtractor replaces the OCR extractor.
func WithTextExtractor(t extract.TextExtractor) Option {
	return func(o *options) { o.text = t }
}

// WithMover replaces the filesystem mover.
func WithMover(m router.FileMover) Option {
	return func(o *options) { o.mover = m }
}

// Build opens the store and wires all components. The caller closes the App.
func Build(ctx context.Context, cfg *common.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.mover == nil {
		o.mover = router.OSMover{Logger: logger}
	}

	db, err := repo.Open(ctx, repo.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		DialTimeout:     cfg.Database.DialTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a := &App{Config: cfg, Logger: logger, DB: db}
	if err := a.wire(ctx, o); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, o options) error {
	cfg, logger := a.Config, a.Logger

	a.Documents = repo.NewDocumentRepository(a.DB, logger)
	a.Pending = repo.NewPendingRepository(a.DB, logger)

	customers, err := registry.NewCustomerRegistry(ctx, repo.NewCustomerRepository(a.DB, logger), logger)
	if err != nil {
		return err
	}
	a.Customers = customers
	vehicles, err := registry.NewVehicleIndex(repo.NewVehicleRepository(a.DB, logger), registry.DefaultVehicleCacheSize, logger)
	if err != nil {
		return err
	}
	a.Vehicles = vehicles

	cache, err := patterns.NewCache(patterns.DefaultCacheSize, logger)
	if err != nil {
		return err
	}
	a.Patterns = patterns.NewLibrary(cache, logger)
	if cfg.Archive.PatternFile != "" {
		if err := a.Patterns.Load(cfg.Archive.PatternFile); err != nil {
			return err
		}
	}
	if _, err := a.Patterns.Compiled(cfg.Archive.PatternSet); err != nil {
		return fmt.Errorf("%w: %v", common.ErrPatternLoad, err)
	}

	profiles := router.Builtin()
	if cfg.Archive.ProfileFile != "" {
		if profiles, err = router.LoadProfiles(cfg.Archive.ProfileFile); err != nil {
			return err
		}
	}
	a.Router, err = router.New(router.Options{
		RootDir:       cfg.Archive.RootDir,
		UnclearDir:    cfg.Archive.UnclearDir,
		UnresolvedDir: cfg.Archive.UnresolvedDir,
		Profile:       cfg.Archive.Profile,
		FallbackToken: cfg.Archive.FallbackToken,
		Profiles:      profiles,
	}, a.Customers, logger)
	if err != nil {
		return err
	}

	text := o.text
	if text == nil {
		text, err = ocr.NewExtractor(ocr.Config{
			Pdftotext:     cfg.Extract.Pdftotext,
			Pdftoppm:      cfg.Extract.Pdftoppm,
			Tesseract:     cfg.Extract.Tesseract,
			TesseractLang: cfg.Extract.TesseractLang,
			DPI:           cfg.Extract.DPI,
			MaxPages:      cfg.Extract.MaxPages,
			Timeout:       cfg.Extract.Timeout,
		}, logger)
		if err != nil {
			return err
		}
	}
	fields := extract.NewPatternAdapter(a.Patterns, cfg.Archive.PatternSet, patterns.NewExtractor(logger), logger)

	a.Legacy = resolver.NewLegacyResolver(a.Customers, a.Vehicles, logger)
	a.Manual = resolver.NewManualResolver(a.DB, a.Customers, a.Vehicles, a.Legacy, a.Router, o.mover, logger)
	a.Cascade = merge.NewCascade(a.Customers, a.Vehicles, a.Documents, a.Router, o.mover, logger)

	analyze := pipeline.NewAnalyzeStage(text, fields, logger)
	file := pipeline.NewFileStage(a.Documents, a.Pending, a.Customers, a.Legacy, a.Router, o.mover, cfg.Archive.Profile, logger)
	a.Processor = pipeline.NewProcessor(logger, analyze, file)
	a.Export = export.NewService(a.Documents, logger)
	return nil
}

// ImportRegistry loads the configured customer and vehicle CSV exports, if any.
func (a *App) ImportRegistry(ctx context.Context) error {
	charset := a.Config.Archive.CSVCharset
	if p := a.Config.Archive.CustomerCSV; p != "" {
		st, err := a.Customers.ImportCustomersFile(ctx, p, charset)
		if err != nil {
			return err
		}
		a.Logger.Info("customers imported", "path", p, "rows", st.Rows, "imported", st.Imported, "skipped", st.Skipped)
	}
	if p := a.Config.Archive.VehicleCSV; p != "" {
		st, err := a.Vehicles.ImportVehiclesFile(ctx, p, charset)
		if err != nil {
			return err
		}
		a.Logger.Info("vehicles imported", "path", p, "rows", st.Rows, "imported", st.Imported,
			"skipped", st.Skipped, "conflicts", st.Conflicts)
	}
	return nil
}

// OutputDirs are the archive areas never treated as intake.
func (a *App) OutputDirs() []string {
	return []string{a.Config.Archive.UnclearDir, a.Config.Archive.UnresolvedDir}
}

func (a *App) Close() {
	a.DB.Close()
}

// NewLogger returns a text or JSON slog logger at the named level.
func NewLogger(level string, json bool) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if json {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
