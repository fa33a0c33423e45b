package repository

import (
	"context"
	"fmt"

	"github.com/joseph-ayodele/werkstatt-archive/internal/common"
)

// Tx exposes repositories bound to one transaction.
type Tx struct {
	Documents DocumentRepository
	Pending   PendingRepository
	Vehicles  VehicleRepository
}

// RunInTx runs fn in a transaction holding the document-store writer lock.
// fn's repositories must be the only store access inside fn. The transaction commits
// when fn returns nil and rolls back otherwise.
func (db *DB) RunInTx(ctx context.Context, fn func(tx *Tx) error) error {
	db.docMu.Lock()
	defer db.docMu.Unlock()

	sqltx, err := db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", common.ErrDatabase, err)
	}
	defer func() { _ = sqltx.Rollback() }()

	tx := &Tx{
		Documents: &documentRepo{db: db, q: sqltx, inTx: true, logger: db.logger},
		Pending:   &pendingRepo{db: db, q: sqltx, inTx: true, logger: db.logger},
		Vehicles:  &vehicleRepo{db: db, q: sqltx, inTx: true, logger: db.logger},
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := sqltx.Commit(); err != nil {
		db.logger.Error("transaction commit failed", "error", err)
		return &StoreWriteError{Record: "transaction", Err: fmt.Errorf("%w: commit: %v", common.ErrDatabase, err)}
	}
	db.stats.invalidate()
	return nil
}
