package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/werkstatt-archive/internal/common"
	"github.com/joseph-ayodele/werkstatt-archive/internal/entity"
)

type VehicleRepository interface {
	// Replace makes rec the only binding for its vehicle identifier.
	Replace(ctx context.Context, rec entity.VehicleRecord) error
	// Append stores rec verbatim, keeping any existing rows for the same identifier.
	Append(ctx context.Context, rec entity.VehicleRecord) error
	// CustomersFor returns the distinct customer numbers bound to vehicleID.
	CustomersFor(ctx context.Context, vehicleID string) ([]string, error)
	Get(ctx context.Context, vehicleID string) ([]entity.VehicleRecord, error)
	ListByCustomer(ctx context.Context, customerNumber string) ([]entity.VehicleRecord, error)
	ListByPlate(ctx context.Context, plate string) ([]entity.VehicleRecord, error)
	// Rebind moves every binding of from to to and returns the affected identifiers.
	Rebind(ctx context.Context, from, to string) ([]string, error)
}

type vehicleRepo struct {
	db     *DB
	q      dbtx
	inTx   bool
	logger *slog.Logger
}

func NewVehicleRepository(db *DB, logger *slog.Logger) VehicleRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &vehicleRepo{db: db, q: db.SQL, logger: logger}
}

const vehicleSelect = `SELECT vehicle_id, plate, customer_number, make, model, first_registration, updated_at FROM vehicles`

func (r *vehicleRepo) insert(ctx context.Context, q dbtx, rec entity.VehicleRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	_, err := q.ExecContext(ctx, r.db.rebind(`
INSERT INTO vehicles (vehicle_id, plate, customer_number, make, model, first_registration, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`),
		rec.VehicleID, nullString(rec.Plate), rec.CustomerNumber, nullString(rec.Make), nullString(rec.Model),
		nullString(rec.FirstRegistration), formatTime(rec.UpdatedAt))
	return err
}

func validateVehicle(rec entity.VehicleRecord) error {
	return common.NewValidator().
		Field("vehicle_id", rec.VehicleID, common.Required, common.MaxLength(32)).
		Field("customer_number", rec.CustomerNumber, common.Required).
		Error()
}

func (r *vehicleRepo) Replace(ctx context.Context, rec entity.VehicleRecord) error {
	if err := validateVehicle(rec); err != nil {
		return &StoreWriteError{Record: "vehicle " + rec.VehicleID, Err: err}
	}
	err := r.withTx(ctx, func(q dbtx) error {
		if _, err := q.ExecContext(ctx, r.db.rebind(`DELETE FROM vehicles WHERE vehicle_id = ?`), rec.VehicleID); err != nil {
			return err
		}
		return r.insert(ctx, q, rec)
	})
	if err != nil {
		r.logger.Error("failed to register vehicle", "vehicle_id", rec.VehicleID, "customer_number", rec.CustomerNumber, "error", err)
		return &StoreWriteError{Record: "vehicle " + rec.VehicleID, Err: fmt.Errorf("%w: %v", common.ErrDatabase, err)}
	}
	return nil
}

func (r *vehicleRepo) Append(ctx context.Context, rec entity.VehicleRecord) error {
	if err := validateVehicle(rec); err != nil {
		return &StoreWriteError{Record: "vehicle " + rec.VehicleID, Err: err}
	}
	if err := r.insert(ctx, r.q, rec); err != nil {
		r.logger.Error("failed to append vehicle", "vehicle_id", rec.VehicleID, "error", err)
		return &StoreWriteError{Record: "vehicle " + rec.VehicleID, Err: fmt.Errorf("%w: %v", common.ErrDatabase, err)}
	}
	return nil
}

func (r *vehicleRepo) withTx(ctx context.Context, fn func(q dbtx) error) error {
	if r.inTx {
		return fn(r.q)
	}
	tx, err := r.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *vehicleRepo) CustomersFor(ctx context.Context, vehicleID string) ([]string, error) {
	rows, err := r.q.QueryContext(ctx,
		r.db.rebind(`SELECT DISTINCT customer_number FROM vehicles WHERE vehicle_id = ? ORDER BY customer_number`), vehicleID)
	if err != nil {
		r.logger.Error("failed to look up vehicle", "vehicle_id", vehicleID, "error", err)
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *vehicleRepo) Get(ctx context.Context, vehicleID string) ([]entity.VehicleRecord, error) {
	return r.list(ctx, vehicleSelect+` WHERE vehicle_id = ? ORDER BY id`, vehicleID)
}

func (r *vehicleRepo) ListByCustomer(ctx context.Context, customerNumber string) ([]entity.VehicleRecord, error) {
	return r.list(ctx, vehicleSelect+` WHERE customer_number = ? ORDER BY vehicle_id`, customerNumber)
}

func (r *vehicleRepo) ListByPlate(ctx context.Context, plate string) ([]entity.VehicleRecord, error) {
	return r.list(ctx, vehicleSelect+` WHERE UPPER(plate) = UPPER(?) ORDER BY vehicle_id`, plate)
}

func (r *vehicleRepo) Rebind(ctx context.Context, from, to string) ([]string, error) {
	var ids []string
	err := r.withTx(ctx, func(q dbtx) error {
		rows, err := q.QueryContext(ctx, r.db.rebind(`SELECT DISTINCT vehicle_id FROM vehicles WHERE customer_number = ?`), from)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		_ = rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		_, err = q.ExecContext(ctx, r.db.rebind(`UPDATE vehicles SET customer_number = ?, updated_at = ? WHERE customer_number = ?`),
			to, formatTime(time.Now()), from)
		return err
	})
	if err != nil {
		r.logger.Error("failed to rebind vehicles", "from", from, "to", to, "error", err)
		return nil, &StoreWriteError{Record: "vehicles of " + from, Err: fmt.Errorf("%w: %v", common.ErrDatabase, err)}
	}
	return ids, nil
}

func (r *vehicleRepo) list(ctx context.Context, query string, arg any) ([]entity.VehicleRecord, error) {
	rows, err := r.q.QueryContext(ctx, r.db.rebind(query), arg)
	if err != nil {
		r.logger.Error("failed to list vehicles", "error", err)
		return nil, err
	}
	defer rows.Close()
	var out []entity.VehicleRecord
	for rows.Next() {
		var rec entity.VehicleRecord
		var plate, mk, model, first sql.NullString
		var updated string
		if err := rows.Scan(&rec.VehicleID, &plate, &rec.CustomerNumber, &mk, &model, &first, &updated); err != nil {
			return nil, err
		}
		rec.Plate = plate.String
		rec.Make = mk.String
		rec.Model = model.String
		rec.FirstRegistration = first.String
		rec.UpdatedAt = parseTime(updated)
		out = append(out, rec)
	}
	return out, rows.Err()
}
