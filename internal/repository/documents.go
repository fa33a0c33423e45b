package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"regexp"
	"strings"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/werkstatt-archive/constants"
	"github.com/joseph-ayodele/werkstatt-archive/internal/common"
	"github.com/joseph-ayodele/werkstatt-archive/internal/entity"
)

// DefaultPageSize bounds the rows held in memory per search page.
const DefaultPageSize = 200

// Page is one bounded slice of a search. Next is the cursor for the following page, 0 when done.
type Page struct {
	Items []entity.Document
	Next  int64
}

type DocumentRepository interface {
	InsertOne(ctx context.Context, d *entity.Document) (int64, error)
	InsertBatch(ctx context.Context, docs []*entity.Document) ([]int64, error)
	GetByID(ctx context.Context, id int64) (*entity.Document, error)
	GetByHash(ctx context.Context, hash string) (*entity.Document, error)
	ListByCustomer(ctx context.Context, customerNumber string) ([]entity.Document, error)
	UpdatePath(ctx context.Context, id int64, targetPath, customerNumber, customerName string) error
	ExistsByOrder(ctx context.Context, orderNumber, documentType string) (bool, error)
	Search(ctx context.Context, c entity.Criteria, pageSize int) iter.Seq2[entity.Document, error]
	SearchPage(ctx context.Context, c entity.Criteria, after int64, limit int) (Page, error)
	Aggregate(ctx context.Context) (entity.Stats, error)
	// DeleteCreatedBefore is the explicit maintenance cleanup of old index records.
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time, statuses ...constants.DocumentStatus) (int64, error)
}

var documentColumns = []string{
	"id", "source_filename", "original_path", "target_path", "customer_number", "customer_name",
	"order_number", "document_date", "document_type", "vehicle_id", "plate", "year", "page_count",
	"confidence", "status", "resolution_reason", "content_hash", "created_at", "updated_at",
}

type documentRepo struct {
	db     *DB
	q      dbtx
	inTx   bool
	logger *slog.Logger
}

func NewDocumentRepository(db *DB, logger *slog.Logger) DocumentRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &documentRepo{db: db, q: db.SQL, logger: logger}
}

// StoreWriteError identifies the record a write failed for.
type StoreWriteError struct {
	Record string
	Err    error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write %s: %v", e.Record, e.Err)
}

func (e *StoreWriteError) Unwrap() []error {
	return []error{common.ErrStoreWrite, e.Err}
}

var hashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

func validateDocument(d *entity.Document) error {
	if d == nil {
		return fmt.Errorf("%w: nil document", common.ErrValidation)
	}
	v := common.NewValidator().
		Field("source_filename", d.SourceFilename, common.Required, common.MaxLength(255)).
		Field("original_path", d.OriginalPath, common.Required).
		Field("target_path", d.TargetPath, common.Required).
		Field("document_type", d.DocumentType, common.Required, common.MaxLength(64)).
		Field("confidence", d.Confidence, common.Between(0, 1)).
		Field("status", string(d.Status), common.OneOf(
			string(constants.StatusFiled), string(constants.StatusUnclear),
			string(constants.StatusLegacyFiled), string(constants.StatusLegacyUnclear))).
		Field("content_hash", d.ContentHash, common.Matches(hashPattern, "must be a hex sha256"))
	if d.ResolutionReason != nil {
		v.Field("resolution_reason", string(*d.ResolutionReason), common.OneOf(
			string(constants.ReasonNone), string(constants.ReasonUnclear), string(constants.ReasonMultipleFINMatches),
			string(constants.ReasonMultipleNameMatches), string(constants.ReasonNoDetails)))
	}
	return v.Error()
}

func (r *documentRepo) lock() func() {
	if r.inTx {
		return func() {}
	}
	r.db.docMu.Lock()
	return r.db.docMu.Unlock
}

func (r *documentRepo) afterWrite() {
	if !r.inTx {
		r.db.stats.invalidate()
	}
}

func (r *documentRepo) insert(ctx context.Context, q dbtx, d *entity.Document) (int64, error) {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = d.CreatedAt
	}
	var reason sql.NullString
	if d.ResolutionReason != nil {
		reason = nullString(string(*d.ResolutionReason))
	}
	query, args := r.db.builder().Insert("documents").
		Columns(documentColumns[1:]...).
		Values(
			d.SourceFilename, d.OriginalPath, d.TargetPath, nullString(d.CustomerNumber), nullString(d.CustomerName),
			nullString(d.OrderNumber), nullDate(d.DocumentDate), d.DocumentType, nullString(d.VehicleID), nullString(d.Plate),
			nullInt(d.Year), nullInt(d.PageCount), d.Confidence, string(d.Status), reason, nullString(d.ContentHash),
			formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
		).
		Returning("id").
		Query()
	var id int64
	if err := q.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	d.ID = id
	return id, nil
}

func (r *documentRepo) InsertOne(ctx context.Context, d *entity.Document) (int64, error) {
	if err := validateDocument(d); err != nil {
		return 0, &StoreWriteError{Record: recordName(d, 0), Err: err}
	}
	unlock := r.lock()
	defer unlock()

	id, err := r.insert(ctx, r.q, d)
	if err != nil {
		r.logger.Error("failed to insert document", "source_filename", d.SourceFilename, "target_path", d.TargetPath, "error", err)
		return 0, &StoreWriteError{Record: recordName(d, 0), Err: fmt.Errorf("%w: %v", common.ErrDatabase, err)}
	}
	r.afterWrite()
	return id, nil
}

// InsertBatch validates every record first and then writes all of them in one transaction.
// A single invalid record rejects the whole batch before anything is written.
func (r *documentRepo) InsertBatch(ctx context.Context, docs []*entity.Document) ([]int64, error) {
	for i, d := range docs {
		if err := validateDocument(d); err != nil {
			r.logger.Warn("document batch rejected", "index", i, "size", len(docs), "error", err)
			return nil, &StoreWriteError{Record: recordName(d, i), Err: err}
		}
	}
	if len(docs) == 0 {
		return nil, nil
	}

	unlock := r.lock()
	defer unlock()

	ids := make([]int64, 0, len(docs))
	err := r.withTx(ctx, func(q dbtx) error {
		for i, d := range docs {
			id, err := r.insert(ctx, q, d)
			if err != nil {
				return &StoreWriteError{Record: recordName(d, i), Err: fmt.Errorf("%w: %v", common.ErrDatabase, err)}
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		for _, d := range docs {
			d.ID = 0
		}
		r.logger.Error("document batch failed", "size", len(docs), "error", err)
		return nil, err
	}
	r.afterWrite()
	r.logger.Info("document batch committed", "size", len(docs))
	return ids, nil
}

func (r *documentRepo) withTx(ctx context.Context, fn func(q dbtx) error) error {
	if r.inTx {
		return fn(r.q)
	}
	tx, err := r.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return &StoreWriteError{Record: "batch", Err: fmt.Errorf("%w: begin: %v", common.ErrDatabase, err)}
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &StoreWriteError{Record: "batch", Err: fmt.Errorf("%w: commit: %v", common.ErrDatabase, err)}
	}
	return nil
}

func recordName(d *entity.Document, index int) string {
	if d == nil {
		return fmt.Sprintf("#%d", index)
	}
	return fmt.Sprintf("#%d %s", index, d.SourceFilename)
}

func (r *documentRepo) GetByID(ctx context.Context, id int64) (*entity.Document, error) {
	return r.getOne(ctx, "id = ?", id)
}

func (r *documentRepo) GetByHash(ctx context.Context, hash string) (*entity.Document, error) {
	return r.getOne(ctx, "content_hash = ?", hash)
}

func (r *documentRepo) getOne(ctx context.Context, where string, arg any) (*entity.Document, error) {
	query := r.db.rebind("SELECT " + strings.Join(documentColumns, ", ") + " FROM documents WHERE " + where)
	d, err := scanDocument(r.q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %v: %w", arg, common.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("failed to get document", "where", where, "error", err)
		return nil, err
	}
	return &d, nil
}

func (r *documentRepo) ListByCustomer(ctx context.Context, customerNumber string) ([]entity.Document, error) {
	query := r.db.rebind("SELECT " + strings.Join(documentColumns, ", ") + " FROM documents WHERE customer_number = ? ORDER BY id")
	rows, err := r.q.QueryContext(ctx, query, customerNumber)
	if err != nil {
		r.logger.Error("failed to list documents by customer", "customer_number", customerNumber, "error", err)
		return nil, err
	}
	defer rows.Close()
	return collectDocuments(rows)
}

func (r *documentRepo) UpdatePath(ctx context.Context, id int64, targetPath, customerNumber, customerName string) error {
	unlock := r.lock()
	defer unlock()

	query, args := r.db.builder().Update("documents").
		Set("target_path", targetPath).
		Set("customer_number", nullString(customerNumber)).
		Set("customer_name", nullString(customerName)).
		Set("updated_at", formatTime(time.Now())).
		Where(entsql.EQ("id", id)).
		Query()
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("failed to update document path", "id", id, "target_path", targetPath, "error", err)
		return &StoreWriteError{Record: fmt.Sprintf("document %d", id), Err: fmt.Errorf("%w: %v", common.ErrDatabase, err)}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("document %d: %w", id, common.ErrNotFound)
	}
	r.afterWrite()
	return nil
}

func (r *documentRepo) ExistsByOrder(ctx context.Context, orderNumber, documentType string) (bool, error) {
	if orderNumber == "" {
		return false, nil
	}
	var one int
	err := r.q.QueryRowContext(ctx,
		r.db.rebind("SELECT 1 FROM documents WHERE order_number = ? AND document_type = ? LIMIT 1"),
		orderNumber, documentType).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Search returns matching documents newest first, fetching pageSize rows at a time.
func (r *documentRepo) Search(ctx context.Context, c entity.Criteria, pageSize int) iter.Seq2[entity.Document, error] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return func(yield func(entity.Document, error) bool) {
		var after int64
		for {
			if err := ctx.Err(); err != nil {
				yield(entity.Document{}, err)
				return
			}
			page, err := r.SearchPage(ctx, c, after, pageSize)
			if err != nil {
				yield(entity.Document{}, err)
				return
			}
			for _, d := range page.Items {
				if !yield(d, nil) {
					return
				}
			}
			if page.Next == 0 {
				return
			}
			after = page.Next
		}
	}
}

// SearchPage returns at most limit documents with id < after (after == 0 starts at the newest).
func (r *documentRepo) SearchPage(ctx context.Context, c entity.Criteria, after int64, limit int) (Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	sel := r.db.builder().Select(documentColumns...).From(entsql.Table("documents"))
	if preds := r.criteriaPredicates(c); len(preds) > 0 {
		sel.Where(entsql.And(preds...))
	}
	if after > 0 {
		sel.Where(entsql.LT("id", after))
	}
	sel.OrderBy(entsql.Desc("id")).Limit(limit)

	query, args := sel.Query()
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("document search failed", "error", err)
		return Page{}, err
	}
	items, err := collectDocuments(rows)
	_ = rows.Close()
	if err != nil {
		return Page{}, err
	}
	page := Page{Items: items}
	if len(items) == limit {
		page.Next = items[len(items)-1].ID
	}
	return page, nil
}

func (r *documentRepo) criteriaPredicates(c entity.Criteria) []*entsql.Predicate {
	var preds []*entsql.Predicate
	if c.CustomerNumber != "" {
		preds = append(preds, entsql.EQ("customer_number", c.CustomerNumber))
	}
	if c.Name != "" {
		preds = append(preds, entsql.ContainsFold("customer_name", c.Name))
	}
	if c.OrderNumber != "" {
		preds = append(preds, entsql.EQ("order_number", c.OrderNumber))
	}
	if c.Filename != "" {
		preds = append(preds, entsql.Or(
			entsql.ContainsFold("source_filename", c.Filename),
			entsql.ContainsFold("target_path", c.Filename),
		))
	}
	if c.DocumentType != "" {
		preds = append(preds, entsql.EQ("document_type", c.DocumentType))
	}
	if c.Year > 0 {
		preds = append(preds, entsql.EQ("year", c.Year))
	}
	if c.Status != "" {
		preds = append(preds, entsql.EQ("status", string(c.Status)))
	}
	if c.LegacyOnly {
		preds = append(preds, entsql.In("status", string(constants.StatusLegacyFiled), string(constants.StatusLegacyUnclear)))
	}
	if c.Plate != "" {
		preds = append(preds, entsql.ContainsFold("plate", c.Plate))
	}
	if q := strings.ToUpper(strings.TrimSpace(c.VehicleID)); q != "" {
		last8 := r.db.last8("vehicle_id")
		preds = append(preds, entsql.Or(
			entsql.P(func(b *entsql.Builder) {
				b.WriteString(last8).WriteString(" LIKE ").Arg("%" + escapeLike(q) + "%")
			}),
			entsql.Contains("vehicle_id", q),
		))
	}
	return preds
}

func escapeLike(s string) string {
	return strings.NewReplacer("%", "", "_", "").Replace(s)
}

// Aggregate returns index statistics. The result is cached until the next write.
func (r *documentRepo) Aggregate(ctx context.Context) (entity.Stats, error) {
	cached, gen, ok := r.db.stats.get()
	if ok && !r.inTx {
		return cached, nil
	}
	s := entity.Stats{ByStatus: map[string]int{}, ByType: map[string]int{}, ByYear: map[int]int{}}

	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(confidence), 0), COUNT(DISTINCT customer_number), COUNT(DISTINCT vehicle_id) FROM documents`,
	).Scan(&s.Total, &s.AvgConfidence, &s.UniqueCustomers, &s.UniqueVehicles)
	if err != nil {
		r.logger.Error("failed to aggregate documents", "error", err)
		return entity.Stats{}, err
	}

	if err := r.groupCount(ctx, "status", func(k sql.NullString, n int) {
		s.ByStatus[k.String] = n
		if constants.DocumentStatus(k.String).IsLegacy() {
			s.LegacyCount += n
		}
	}); err != nil {
		return entity.Stats{}, err
	}
	if err := r.groupCount(ctx, "document_type", func(k sql.NullString, n int) { s.ByType[k.String] = n }); err != nil {
		return entity.Stats{}, err
	}

	rows, err := r.q.QueryContext(ctx, `SELECT year, COUNT(*) FROM documents WHERE year IS NOT NULL GROUP BY year`)
	if err != nil {
		return entity.Stats{}, err
	}
	for rows.Next() {
		var y, n int
		if err := rows.Scan(&y, &n); err != nil {
			_ = rows.Close()
			return entity.Stats{}, err
		}
		s.ByYear[y] = n
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return entity.Stats{}, err
	}

	if err := r.q.QueryRowContext(ctx,
		r.db.rebind(`SELECT COUNT(*) FROM pending_legacy WHERE status = ?`), string(constants.PendingOpen),
	).Scan(&s.OpenPending); err != nil {
		return entity.Stats{}, err
	}

	if !r.inTx && !r.db.stats.put(gen, s) {
		r.logger.Debug("aggregate not cached, store changed while counting")
	}
	return s, nil
}

func (r *documentRepo) groupCount(ctx context.Context, col string, fn func(sql.NullString, int)) error {
	rows, err := r.q.QueryContext(ctx, fmt.Sprintf("SELECT %s, COUNT(*) FROM documents GROUP BY %s", col, col))
	if err != nil {
		r.logger.Error("failed to group documents", "column", col, "error", err)
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var k sql.NullString
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return err
		}
		fn(k, n)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(s rowScanner) (entity.Document, error) {
	var (
		d                                                 entity.Document
		cust, name, order, date, vin, plate, reason, hash sql.NullString
		year, pages                                       sql.NullInt64
		status, created, updated                          string
	)
	err := s.Scan(&d.ID, &d.SourceFilename, &d.OriginalPath, &d.TargetPath, &cust, &name, &order, &date,
		&d.DocumentType, &vin, &plate, &year, &pages, &d.Confidence, &status, &reason, &hash, &created, &updated)
	if err != nil {
		return entity.Document{}, err
	}
	d.CustomerNumber = cust.String
	d.CustomerName = name.String
	d.OrderNumber = order.String
	d.DocumentDate = parseDate(date)
	d.VehicleID = vin.String
	d.Plate = plate.String
	d.Year = int(year.Int64)
	d.PageCount = int(pages.Int64)
	d.Status = constants.DocumentStatus(status)
	if reason.Valid {
		mr := constants.MatchReason(reason.String)
		d.ResolutionReason = &mr
	}
	d.ContentHash = hash.String
	d.CreatedAt = parseTime(created)
	d.UpdatedAt = parseTime(updated)
	return d, nil
}

func collectDocuments(rows *sql.Rows) ([]entity.Document, error) {
	var out []entity.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
