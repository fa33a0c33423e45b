package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/werkstatt-archive/internal/entity"
)

type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
}

// DB is the metadata store handle shared by all repositories.
type DB struct {
	SQL     *sql.DB
	dialect string
	pool    *pgxpool.Pool
	logger  *slog.Logger

	// docMu serializes writes to documents and pending entries.
	docMu sync.Mutex
	stats statsCache
}

// dbtx is satisfied by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens SQLite (file path, "sqlite://" DSN, ":memory:") or Postgres ("postgres://" DSN) and ensures the schema.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if isPostgres(cfg.DSN) {
		return openPostgres(ctx, cfg, logger)
	}
	return openSQLite(ctx, cfg, logger)
}

func isPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func openSQLite(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	path := strings.TrimPrefix(cfg.DSN, "sqlite://")
	if path == "" {
		return nil, errors.New("empty sqlite path")
	}
	logger.Info("opening sqlite database", "path", path)

	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		logger.Error("failed to open sqlite database", "path", path, "error", err)
		return nil, err
	}
	// One connection keeps :memory: databases alive and serializes SQLite writers.
	sqldb.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := sqldb.ExecContext(ctx, p); err != nil {
			_ = sqldb.Close()
			logger.Error("failed to apply pragma", "pragma", p, "error", err)
			return nil, err
		}
	}

	db := &DB{SQL: sqldb, dialect: dialect.SQLite, logger: logger}
	if err := db.initSchema(ctx); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	logger.Info("successfully opened database", "dialect", db.dialect)
	return db, nil
}

func openPostgres(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	logger.Info("connecting to database", "dialect", dialect.Postgres)
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("failed to parse database url", "error", err)
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "werkstatt-archive"

	dialCtx := ctx
	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}

	db := &DB{SQL: stdlib.OpenDBFromPool(pool), dialect: dialect.Postgres, pool: pool, logger: logger}
	if err := db.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("successfully connected to database")
	return db, nil
}

// Dialect returns the ent dialect name of the store.
func (db *DB) Dialect() string { return db.dialect }

// Close closes the database connections gracefully
func (db *DB) Close() {
	db.logger.Info("closing database connections")
	if err := db.SQL.Close(); err != nil {
		db.logger.Error("failed to close database", "error", err)
	}
	if db.pool != nil {
		db.pool.Close()
	}
	db.logger.Info("database connections closed")
}

// HealthCheck pings the database.
func (db *DB) HealthCheck(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	db.logger.Debug("pinging database")
	if db.pool != nil {
		return db.pool.Ping(ctx)
	}
	return db.SQL.PingContext(ctx)
}

func (db *DB) builder() *entsql.DialectBuilder {
	return entsql.Dialect(db.dialect)
}

// rebind rewrites '?' placeholders for Postgres.
func (db *DB) rebind(query string) string {
	if db.dialect != dialect.Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// last8 returns the SQL expression for the last eight characters of col.
func (db *DB) last8(col string) string {
	if db.dialect == dialect.Postgres {
		return fmt.Sprintf("RIGHT(%s, 8)", col)
	}
	return fmt.Sprintf("SUBSTR(%s, -8)", col)
}

// statsCache holds the last aggregate until the next write. gen counts
// invalidations so an aggregate computed across a write is not stored.
type statsCache struct {
	mu  sync.Mutex
	v   *entity.Stats
	gen uint64
}

// get returns the cached stats, or the current generation to pass to put.
func (c *statsCache) get() (entity.Stats, uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.v == nil {
		return entity.Stats{}, c.gen, false
	}
	return copyStats(*c.v), c.gen, true
}

// put stores s unless an invalidation happened since gen was read.
func (c *statsCache) put(gen uint64, s entity.Stats) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	cp := copyStats(s)
	c.v = &cp
	return true
}

func (c *statsCache) invalidate() {
	c.mu.Lock()
	c.v = nil
	c.gen++
	c.mu.Unlock()
}

func copyStats(s entity.Stats) entity.Stats {
	out := s
	out.ByStatus = make(map[string]int, len(s.ByStatus))
	for k, v := range s.ByStatus {
		out.ByStatus[k] = v
	}
	out.ByType = make(map[string]int, len(s.ByType))
	for k, v := range s.ByType {
		out.ByType[k] = v
	}
	out.ByYear = make(map[int]int, len(s.ByYear))
	for k, v := range s.ByYear {
		out.ByYear[k] = v
	}
	return out
}

const timeLayout = time.RFC3339Nano
const dateLayout = "2006-01-02"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n > 0}
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(dateLayout), Valid: true}
}

func parseDate(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(dateLayout, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
