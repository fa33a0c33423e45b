package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joseph-ayodele/werkstatt-archive/internal/app"
	"github.com/joseph-ayodele/werkstatt-archive/internal/common"
	"github.com/joseph-ayodele/werkstatt-archive/internal/entity"
	"github.com/joseph-ayodele/werkstatt-archive/internal/ingest"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	var (
		configPath = flag.String("config", os.Getenv("ARCHIVE_CONFIG"), "path to YAML config file")
		dir        = flag.String("dir", "", "directory to process (defaults to archive.input)")
		out        = flag.String("out", "", "optional XLSX index export written after the run")
		workers    = flag.Int("workers", 0, "concurrent documents (defaults to worker.count)")
	)
	flag.Parse()

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		printError("Error: invalid config: %v\n", err)
		os.Exit(2)
	}
	if *dir == "" {
		*dir = cfg.Archive.InputDir
	}
	if *workers <= 0 {
		*workers = cfg.Worker.Workers
	}

	logger := app.NewLogger(cfg.LogLevel, true)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize archive", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.ImportRegistry(ctx); err != nil {
		logger.Error("registry import failed", "error", err)
		os.Exit(1)
	}

	scanner := ingest.NewScanner(a.Processor, *workers, a.OutputDirs(), logger)
	logger.Info("starting batch", "dir", *dir, "workers", *workers)
	results, stats, scanErr := scanner.Scan(ctx, *dir)

	for _, r := range results {
		if r.Err != nil {
			logger.Error("document failed", "path", r.Path, "error", r.Err)
		}
	}
	logger.Info("batch processing complete",
		"matched", stats.Matched,
		"processed", stats.Processed,
		"filed", stats.Filed,
		"unclear", stats.Unclear,
		"legacy_filed", stats.LegacyFiled,
		"legacy_unclear", stats.LegacyUnclear,
		"pending", stats.Pending,
		"duplicates", stats.Duplicates,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
	)

	if *out != "" && scanErr == nil {
		data, err := a.Export.DocumentsXLSX(ctx, entity.Criteria{})
		if err != nil {
			logger.Error("failed to export index", "error", err)
			os.Exit(1)
		}
		if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
			logger.Error("failed to create output directory", "error", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*out, data, 0o644); err != nil {
			logger.Error("failed to write output file", "error", err)
			os.Exit(1)
		}
	}

	fmt.Printf("Batch processing complete!\n")
	fmt.Printf("- Files matched: %d\n", stats.Matched)
	fmt.Printf("- Filed: %d (unclear %d)\n", stats.Filed, stats.Unclear)
	fmt.Printf("- Legacy filed: %d (unclear %d)\n", stats.LegacyFiled, stats.LegacyUnclear)
	fmt.Printf("- Pending manual resolution: %d\n", stats.Pending)
	fmt.Printf("- Duplicates: %d\n", stats.Duplicates)
	fmt.Printf("- Failures: %d\n", stats.Failed)
	if stats.Skipped > 0 {
		fmt.Printf("- Not started (cancelled): %d\n", stats.Skipped)
	}
	if *out != "" && scanErr == nil {
		fmt.Printf("- Output: %s\n", *out)
	}
	if scanErr != nil {
		logger.Warn("batch interrupted", "error", scanErr)
		os.Exit(130)
	}
	if stats.Failed > 0 {
		os.Exit(1)
	}
}
