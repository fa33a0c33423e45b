package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/werkstatt-archive/internal/common"
	"github.com/joseph-ayodele/werkstatt-archive/internal/entity"
)

type CustomerRepository interface {
	Upsert(ctx context.Context, c entity.Customer) error
	Get(ctx context.Context, number string) (*entity.Customer, error)
	List(ctx context.Context) ([]entity.Customer, error)
	Delete(ctx context.Context, number string) error
	// NextCounter increments and returns the named counter.
	NextCounter(ctx context.Context, name string) (int64, error)
	// SetCounterAtLeast raises the named counter to min if it is lower.
	SetCounterAtLeast(ctx context.Context, name string, min int64) error
}

type customerRepo struct {
	db     *DB
	q      dbtx
	logger *slog.Logger
}

func NewCustomerRepository(db *DB, logger *slog.Logger) CustomerRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &customerRepo{db: db, q: db.SQL, logger: logger}
}

func (r *customerRepo) Upsert(ctx context.Context, c entity.Customer) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	query := r.db.rebind(`
INSERT INTO customers (number, name, postal_code, city, street, phone, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(number) DO UPDATE SET
	name = excluded.name,
	postal_code = excluded.postal_code,
	city = excluded.city,
	street = excluded.street,
	phone = excluded.phone,
	updated_at = excluded.updated_at`)
	_, err := r.q.ExecContext(ctx, query, c.Number, c.Name, nullString(c.PostalCode), nullString(c.City),
		nullString(c.Street), nullString(c.Phone), formatTime(c.UpdatedAt))
	if err != nil {
		r.logger.Error("failed to upsert customer", "number", c.Number, "error", err)
		return &StoreWriteError{Record: "customer " + c.Number, Err: fmt.Errorf("%w: %v", common.ErrDatabase, err)}
	}
	return nil
}

func (r *customerRepo) Get(ctx context.Context, number string) (*entity.Customer, error) {
	row := r.q.QueryRowContext(ctx, r.db.rebind(
		`SELECT number, name, postal_code, city, street, phone, updated_at FROM customers WHERE number = ?`), number)
	c, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("customer %s: %w", number, common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *customerRepo) List(ctx context.Context) ([]entity.Customer, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT number, name, postal_code, city, street, phone, updated_at FROM customers ORDER BY number`)
	if err != nil {
		r.logger.Error("failed to list customers", "error", err)
		return nil, err
	}
	defer rows.Close()
	var out []entity.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *customerRepo) Delete(ctx context.Context, number string) error {
	if _, err := r.q.ExecContext(ctx, r.db.rebind(`DELETE FROM customers WHERE number = ?`), number); err != nil {
		r.logger.Error("failed to delete customer", "number", number, "error", err)
		return &StoreWriteError{Record: "customer " + number, Err: fmt.Errorf("%w: %v", common.ErrDatabase, err)}
	}
	return nil
}

func (r *customerRepo) NextCounter(ctx context.Context, name string) (int64, error) {
	var v int64
	err := r.q.QueryRowContext(ctx, r.db.rebind(`
INSERT INTO counters (name, value) VALUES (?, 1)
ON CONFLICT(name) DO UPDATE SET value = counters.value + 1
RETURNING value`), name).Scan(&v)
	if err != nil {
		r.logger.Error("failed to advance counter", "counter", name, "error", err)
		return 0, &StoreWriteError{Record: "counter " + name, Err: fmt.Errorf("%w: %v", common.ErrDatabase, err)}
	}
	return v, nil
}

func (r *customerRepo) SetCounterAtLeast(ctx context.Context, name string, min int64) error {
	_, err := r.q.ExecContext(ctx, r.db.rebind(`
INSERT INTO counters (name, value) VALUES (?, ?)
ON CONFLICT(name) DO UPDATE SET value = CASE WHEN counters.value < excluded.value THEN excluded.value ELSE counters.value END`),
		name, min)
	if err != nil {
		return &StoreWriteError{Record: "counter " + name, Err: fmt.Errorf("%w: %v", common.ErrDatabase, err)}
	}
	return nil
}

func scanCustomer(s rowScanner) (entity.Customer, error) {
	var c entity.Customer
	var plz, city, street, phone sql.NullString
	var updated string
	if err := s.Scan(&c.Number, &c.Name, &plz, &city, &street, &phone, &updated); err != nil {
		return entity.Customer{}, err
	}
	c.PostalCode = plz.String
	c.City = city.String
	c.Street = street.String
	c.Phone = phone.String
	c.UpdatedAt = parseTime(updated)
	return c, nil
}
