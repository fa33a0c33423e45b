package common

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Archive  ArchiveConfig
	Extract  ExtractConfig
	Worker   WorkerConfig
	Server   ServerConfig
	LogLevel string
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN             string // file path / sqlite DSN, or postgres:// URL
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// ArchiveConfig holds the directory layout and routing configuration
type ArchiveConfig struct {
	RootDir       string
	InputDir      string
	UnclearDir    string
	UnresolvedDir string
	Profile       string
	ProfileFile   string
	PatternFile   string
	PatternSet    string
	FallbackToken string
	CustomerCSV   string
	VehicleCSV    string
	CSVCharset    string
}

// ExtractConfig holds text-extraction configuration
type ExtractConfig struct {
	Pdftotext     string
	Pdftoppm      string
	Tesseract     string
	TesseractLang string
	DPI           int
	MaxPages      int
	Timeout       time.Duration
}

// WorkerConfig holds worker-pool configuration
type WorkerConfig struct {
	Workers   int
	QueueSize int
	Debounce  time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr string
}

// LoadConfig loads configuration from defaults, an optional YAML file, and ARCHIVE_* environment variables.
// Environment variables win over the file.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, NewAppError("CONFIG_ERROR", "reading config file "+path, err)
		}
	}

	v.SetEnvPrefix("ARCHIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	root := v.GetString("archive.root")
	cfg := &Config{
		Database: DatabaseConfig{
			DSN:             v.GetString("db.dsn"),
			MaxConns:        v.GetInt32("db.max_conns"),
			MinConns:        v.GetInt32("db.min_conns"),
			MaxConnLifetime: v.GetDuration("db.max_conn_lifetime"),
			MaxConnIdleTime: v.GetDuration("db.max_conn_idle_time"),
			DialTimeout:     v.GetDuration("db.dial_timeout"),
		},
		Archive: ArchiveConfig{
			RootDir:       root,
			InputDir:      orDefault(v.GetString("archive.input"), filepath.Join(root, "_eingang")),
			UnclearDir:    orDefault(v.GetString("archive.unclear"), filepath.Join(root, "_unklar")),
			UnresolvedDir: orDefault(v.GetString("archive.unresolved"), filepath.Join(root, "_legacy_unklar")),
			Profile:       v.GetString("archive.profile"),
			ProfileFile:   v.GetString("archive.profile_file"),
			PatternFile:   v.GetString("archive.pattern_file"),
			PatternSet:    v.GetString("archive.pattern_set"),
			FallbackToken: v.GetString("archive.fallback_token"),
			CustomerCSV:   v.GetString("archive.customer_csv"),
			VehicleCSV:    v.GetString("archive.vehicle_csv"),
			CSVCharset:    v.GetString("archive.csv_charset"),
		},
		Extract: ExtractConfig{
			Pdftotext:     v.GetString("extract.pdftotext"),
			Pdftoppm:      v.GetString("extract.pdftoppm"),
			Tesseract:     v.GetString("extract.tesseract"),
			TesseractLang: v.GetString("extract.tesseract_lang"),
			DPI:           v.GetInt("extract.dpi"),
			MaxPages:      v.GetInt("extract.max_pages"),
			Timeout:       v.GetDuration("extract.timeout"),
		},
		Worker: WorkerConfig{
			Workers:   v.GetInt("worker.count"),
			QueueSize: v.GetInt("worker.queue_size"),
			Debounce:  v.GetDuration("worker.debounce"),
		},
		Server: ServerConfig{
			GRPCAddr: v.GetString("server.grpc_addr"),
		},
		LogLevel: v.GetString("log.level"),
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.dsn", "archive.db")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("db.max_conn_idle_time", 5*time.Minute)
	v.SetDefault("db.dial_timeout", 3*time.Second)

	v.SetDefault("archive.root", "./archiv")
	v.SetDefault("archive.input", "")
	v.SetDefault("archive.unclear", "")
	v.SetDefault("archive.unresolved", "")
	v.SetDefault("archive.profile", "default")
	v.SetDefault("archive.profile_file", "")
	v.SetDefault("archive.pattern_file", "")
	v.SetDefault("archive.pattern_set", "standard")
	v.SetDefault("archive.fallback_token", "UNBEKANNT")
	v.SetDefault("archive.customer_csv", "")
	v.SetDefault("archive.vehicle_csv", "")
	v.SetDefault("archive.csv_charset", "utf-8")

	v.SetDefault("extract.pdftotext", "pdftotext")
	v.SetDefault("extract.pdftoppm", "pdftoppm")
	v.SetDefault("extract.tesseract", "tesseract")
	v.SetDefault("extract.tesseract_lang", "deu")
	v.SetDefault("extract.dpi", 300)
	v.SetDefault("extract.max_pages", 0)
	v.SetDefault("extract.timeout", 3*time.Minute)

	v.SetDefault("worker.count", 4)
	v.SetDefault("worker.queue_size", 256)
	v.SetDefault("worker.debounce", 2*time.Second)

	v.SetDefault("server.grpc_addr", ":8080")
	v.SetDefault("log.level", "info")
}

func orDefault(value, def string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return def
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	var errs []error
	if c.Database.DSN == "" {
		errs = append(errs, NewAppError("CONFIG_ERROR", "db.dsn is required", ErrInvalidInput))
	}
	if c.Archive.RootDir == "" {
		errs = append(errs, NewAppError("CONFIG_ERROR", "archive.root is required", ErrInvalidInput))
	}
	if c.Archive.Profile == "" {
		errs = append(errs, NewAppError("CONFIG_ERROR", "archive.profile is required", ErrInvalidInput))
	}
	if c.Archive.FallbackToken == "" || strings.ContainsAny(c.Archive.FallbackToken, `/\`) {
		errs = append(errs, NewAppError("CONFIG_ERROR", "archive.fallback_token must be a non-empty path segment", ErrInvalidInput))
	}
	if c.Worker.Workers <= 0 {
		errs = append(errs, NewAppError("CONFIG_ERROR", "worker.count must be positive", ErrInvalidInput))
	}
	switch strings.ToLower(c.Archive.CSVCharset) {
	case "", "utf-8", "utf8", "windows-1252", "cp1252", "iso-8859-1", "latin1":
	default:
		errs = append(errs, NewAppError("CONFIG_ERROR", "archive.csv_charset is not supported: "+c.Archive.CSVCharset, ErrInvalidInput))
	}
	return errors.Join(errs...)
}
