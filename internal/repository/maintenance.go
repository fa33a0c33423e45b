package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/werkstatt-archive/constants"
	"github.com/joseph-ayodele/werkstatt-archive/internal/common"
)

// HealthReport is the result of Inspect.
type HealthReport struct {
	Dialect     string
	Integrity   string
	JournalMode string
	Indexes     int
	Documents   int
	OpenPending int
	Warnings    []string
}

// Healthy reports whether the integrity check passed.
func (h HealthReport) Healthy() bool { return h.Integrity == "ok" }

// MaintenanceReport is the result of Maintain.
type MaintenanceReport struct {
	Dialect    string
	Integrity  string
	SizeBefore int64
	SizeAfter  int64
	Duration   time.Duration
}

// IntegrityCheck runs PRAGMA integrity_check on SQLite and returns "ok" or the reported
// problems. On Postgres every archive table is scanned once instead.
func (db *DB) IntegrityCheck(ctx context.Context) (string, error) {
	if db.dialect == dialect.Postgres {
		for _, table := range []string{"documents", "pending_legacy", "customers", "vehicles", "counters"} {
			var n int
			if err := db.SQL.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
				return table + ": " + err.Error(), nil
			}
		}
		return "ok", nil
	}
	rows, err := db.SQL.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return "", fmt.Errorf("%w: integrity check: %v", common.ErrDatabase, err)
	}
	defer rows.Close()
	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return "", err
		}
		problems = append(problems, line)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(problems) == 1 && problems[0] == "ok" {
		return "ok", nil
	}
	return strings.Join(problems, "; "), nil
}

// Inspect gathers integrity, index and journal information plus operator warnings.
func (db *DB) Inspect(ctx context.Context) (HealthReport, error) {
	h := HealthReport{Dialect: db.dialect}
	var err error
	if h.Integrity, err = db.IntegrityCheck(ctx); err != nil {
		return h, err
	}
	if h.Integrity != "ok" {
		h.Warnings = append(h.Warnings, "integrity check failed: "+h.Integrity)
	}

	indexQuery := `SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name LIKE 'idx_%'`
	if db.dialect == dialect.Postgres {
		indexQuery = `SELECT COUNT(*) FROM pg_indexes WHERE schemaname = current_schema() AND indexname LIKE 'idx_%'`
	}
	if err := db.SQL.QueryRowContext(ctx, indexQuery).Scan(&h.Indexes); err != nil {
		return h, fmt.Errorf("%w: count indexes: %v", common.ErrDatabase, err)
	}
	if h.Indexes < len(indexDDL) {
		h.Warnings = append(h.Warnings, fmt.Sprintf("only %d of %d indexes present", h.Indexes, len(indexDDL)))
	}

	if db.dialect == dialect.SQLite {
		if err := db.SQL.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&h.JournalMode); err != nil {
			return h, fmt.Errorf("%w: journal mode: %v", common.ErrDatabase, err)
		}
		if mode := strings.ToLower(h.JournalMode); mode != "wal" && mode != "memory" {
			h.Warnings = append(h.Warnings, fmt.Sprintf("journal mode is %q, expected wal", h.JournalMode))
		}
	}

	if err := db.SQL.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&h.Documents); err != nil {
		return h, fmt.Errorf("%w: count documents: %v", common.ErrDatabase, err)
	}
	if err := db.SQL.QueryRowContext(ctx,
		db.rebind("SELECT COUNT(*) FROM pending_legacy WHERE status = ?"), string(constants.PendingOpen),
	).Scan(&h.OpenPending); err != nil {
		return h, fmt.Errorf("%w: count pending: %v", common.ErrDatabase, err)
	}
	if h.OpenPending > 0 {
		h.Warnings = append(h.Warnings, fmt.Sprintf("%d legacy documents await manual resolution", h.OpenPending))
	}
	return h, nil
}

// Maintain refreshes planner statistics and compacts the store: ANALYZE and VACUUM on SQLite,
// VACUUM ANALYZE on Postgres. Document writes are held off while it runs.
func (db *DB) Maintain(ctx context.Context) (MaintenanceReport, error) {
	db.docMu.Lock()
	defer db.docMu.Unlock()

	start := time.Now()
	rep := MaintenanceReport{Dialect: db.dialect}
	var stmts []string
	if db.dialect == dialect.Postgres {
		stmts = []string{"VACUUM ANALYZE"}
	} else {
		rep.SizeBefore = db.sqliteSize(ctx)
		stmts = []string{"ANALYZE", "VACUUM"}
	}
	for _, stmt := range stmts {
		db.logger.Info("running maintenance", "statement", stmt)
		if _, err := db.SQL.ExecContext(ctx, stmt); err != nil {
			db.logger.Error("maintenance failed", "statement", stmt, "error", err)
			return rep, fmt.Errorf("%w: %s: %v", common.ErrDatabase, stmt, err)
		}
	}
	if db.dialect != dialect.Postgres {
		rep.SizeAfter = db.sqliteSize(ctx)
	}

	integrity, err := db.IntegrityCheck(ctx)
	if err != nil {
		return rep, err
	}
	rep.Integrity = integrity
	rep.Duration = time.Since(start)
	db.logger.Info("maintenance finished", "integrity", integrity, "size_before", rep.SizeBefore,
		"size_after", rep.SizeAfter, "duration_ms", rep.Duration.Milliseconds())
	return rep, nil
}

func (db *DB) sqliteSize(ctx context.Context) int64 {
	var pages, size int64
	if err := db.SQL.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pages); err != nil {
		return 0
	}
	if err := db.SQL.QueryRowContext(ctx, "PRAGMA page_size").Scan(&size); err != nil {
		return 0
	}
	return pages * size
}

// DeleteCreatedBefore removes document records created before cutoff, limited to statuses when
// any are given. Only index records are removed; archived files stay where they are.
func (r *documentRepo) DeleteCreatedBefore(ctx context.Context, cutoff time.Time, statuses ...constants.DocumentStatus) (int64, error) {
	if cutoff.IsZero() {
		return 0, fmt.Errorf("%w: cleanup needs a cutoff", common.ErrInvalidInput)
	}
	preds := []*entsql.Predicate{entsql.LT("created_at", formatTime(cutoff))}
	if len(statuses) > 0 {
		vals := make([]any, 0, len(statuses))
		for _, s := range statuses {
			if !s.Valid() {
				return 0, fmt.Errorf("%w: unknown status %q", common.ErrInvalidInput, s)
			}
			vals = append(vals, string(s))
		}
		preds = append(preds, entsql.In("status", vals...))
	}
	query, args := r.db.builder().Delete("documents").Where(entsql.And(preds...)).Query()

	unlock := r.lock()
	defer unlock()
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("failed to delete old documents", "cutoff", cutoff, "error", err)
		return 0, fmt.Errorf("%w: cleanup: %v", common.ErrDatabase, err)
	}
	n, _ := res.RowsAffected()
	r.afterWrite()
	r.logger.Info("old document records deleted", "cutoff", cutoff, "statuses", statuses, "deleted", n)
	return n, nil
}
