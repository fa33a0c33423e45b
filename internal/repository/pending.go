package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joseph-ayodele/werkstatt-archive/constants"
	"github.com/joseph-ayodele/werkstatt-archive/internal/common"
	"github.com/joseph-ayodele/werkstatt-archive/internal/entity"
)

type PendingRepository interface {
	Create(ctx context.Context, p *entity.PendingLegacyEntry) (int64, error)
	Get(ctx context.Context, id int64) (*entity.PendingLegacyEntry, error)
	GetByHash(ctx context.Context, hash string) (*entity.PendingLegacyEntry, error)
	ListOpen(ctx context.Context) ([]entity.PendingLegacyEntry, error)
	Delete(ctx context.Context, id int64) error
}

var pendingColumns = []string{
	"id", "source_filename", "original_path", "file_path", "customer_name", "order_number", "document_date",
	"document_type", "vehicle_id", "plate", "postal_code", "street", "year", "page_count", "confidence",
	"match_reason", "status", "content_hash", "created_at",
}

type pendingRepo struct {
	db     *DB
	q      dbtx
	inTx   bool
	logger *slog.Logger
}

func NewPendingRepository(db *DB, logger *slog.Logger) PendingRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &pendingRepo{db: db, q: db.SQL, logger: logger}
}

func (r *pendingRepo) lock() func() {
	if r.inTx {
		return func() {}
	}
	r.db.docMu.Lock()
	return r.db.docMu.Unlock
}

func (r *pendingRepo) afterWrite() {
	if !r.inTx {
		r.db.stats.invalidate()
	}
}

func (r *pendingRepo) Create(ctx context.Context, p *entity.PendingLegacyEntry) (int64, error) {
	v := common.NewValidator().
		Field("source_filename", p.SourceFilename, common.Required).
		Field("file_path", p.FilePath, common.Required).
		Field("document_type", p.DocumentType, common.Required).
		Field("confidence", p.Confidence, common.Between(0, 1))
	if !p.MatchReason.Valid() || p.MatchReason == constants.ReasonNone {
		v.Field("match_reason", string(p.MatchReason), common.OneOf(
			string(constants.ReasonUnclear), string(constants.ReasonMultipleFINMatches),
			string(constants.ReasonMultipleNameMatches), string(constants.ReasonNoDetails)))
	}
	if err := v.Error(); err != nil {
		return 0, &StoreWriteError{Record: p.SourceFilename, Err: err}
	}
	if p.Status == "" {
		p.Status = constants.PendingOpen
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	unlock := r.lock()
	defer unlock()

	query, args := r.db.builder().Insert("pending_legacy").
		Columns(pendingColumns[1:]...).
		Values(
			p.SourceFilename, p.OriginalPath, p.FilePath, nullString(p.CustomerName), nullString(p.OrderNumber),
			nullDate(p.DocumentDate), p.DocumentType, nullString(p.VehicleID), nullString(p.Plate),
			nullString(p.PostalCode), nullString(p.Street), nullInt(p.Year), nullInt(p.PageCount), p.Confidence,
			string(p.MatchReason), string(p.Status), nullString(p.ContentHash), formatTime(p.CreatedAt),
		).
		Returning("id").
		Query()
	if err := r.q.QueryRowContext(ctx, query, args...).Scan(&p.ID); err != nil {
		r.logger.Error("failed to create pending entry", "source_filename", p.SourceFilename, "error", err)
		return 0, &StoreWriteError{Record: p.SourceFilename, Err: fmt.Errorf("%w: %v", common.ErrDatabase, err)}
	}
	r.afterWrite()
	return p.ID, nil
}

func (r *pendingRepo) Get(ctx context.Context, id int64) (*entity.PendingLegacyEntry, error) {
	return r.getOne(ctx, "id = ?", id)
}

func (r *pendingRepo) GetByHash(ctx context.Context, hash string) (*entity.PendingLegacyEntry, error) {
	return r.getOne(ctx, "content_hash = ?", hash)
}

func (r *pendingRepo) getOne(ctx context.Context, where string, arg any) (*entity.PendingLegacyEntry, error) {
	query := r.db.rebind("SELECT " + strings.Join(pendingColumns, ", ") + " FROM pending_legacy WHERE " + where)
	p, err := scanPending(r.q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pending entry %v: %w", arg, common.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("failed to get pending entry", "where", where, "error", err)
		return nil, err
	}
	return &p, nil
}

func (r *pendingRepo) ListOpen(ctx context.Context) ([]entity.PendingLegacyEntry, error) {
	query := r.db.rebind("SELECT " + strings.Join(pendingColumns, ", ") + " FROM pending_legacy WHERE status = ? ORDER BY id")
	rows, err := r.q.QueryContext(ctx, query, string(constants.PendingOpen))
	if err != nil {
		r.logger.Error("failed to list pending entries", "error", err)
		return nil, err
	}
	defer rows.Close()
	var out []entity.PendingLegacyEntry
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *pendingRepo) Delete(ctx context.Context, id int64) error {
	unlock := r.lock()
	defer unlock()

	res, err := r.q.ExecContext(ctx, r.db.rebind("DELETE FROM pending_legacy WHERE id = ?"), id)
	if err != nil {
		r.logger.Error("failed to delete pending entry", "id", id, "error", err)
		return &StoreWriteError{Record: fmt.Sprintf("pending %d", id), Err: fmt.Errorf("%w: %v", common.ErrDatabase, err)}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("pending entry %d: %w", id, common.ErrNotFound)
	}
	r.afterWrite()
	return nil
}

func scanPending(s rowScanner) (entity.PendingLegacyEntry, error) {
	var (
		p                                          entity.PendingLegacyEntry
		name, order, date, vin, plate, plz, street sql.NullString
		hash                                       sql.NullString
		year, pages                                sql.NullInt64
		reason, status, created                    string
	)
	err := s.Scan(&p.ID, &p.SourceFilename, &p.OriginalPath, &p.FilePath, &name, &order, &date, &p.DocumentType,
		&vin, &plate, &plz, &street, &year, &pages, &p.Confidence, &reason, &status, &hash, &created)
	if err != nil {
		return entity.PendingLegacyEntry{}, err
	}
	p.CustomerName = name.String
	p.OrderNumber = order.String
	p.DocumentDate = parseDate(date)
	p.VehicleID = vin.String
	p.Plate = plate.String
	p.PostalCode = plz.String
	p.Street = street.String
	p.Year = int(year.Int64)
	p.PageCount = int(pages.Int64)
	p.MatchReason = constants.MatchReason(reason)
	p.Status = constants.PendingStatus(status)
	p.ContentHash = hash.String
	p.CreatedAt = parseTime(created)
	return p, nil
}
