package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/werkstatt-archive/constants"
	"github.com/joseph-ayodele/werkstatt-archive/internal/classify"
	"github.com/joseph-ayodele/werkstatt-archive/internal/common"
	"github.com/joseph-ayodele/werkstatt-archive/internal/entity"
	"github.com/joseph-ayodele/werkstatt-archive/internal/registry"
	"github.com/joseph-ayodele/werkstatt-archive/internal/repository"
	"github.com/joseph-ayodele/werkstatt-archive/internal/router"
)

// ManualResolver converts pending legacy entries into filed documents for an operator-chosen customer.
type ManualResolver struct {
	db        *repository.DB
	pending   repository.PendingRepository
	customers *registry.CustomerRegistry
	vehicles  *registry.VehicleIndex
	legacy    *LegacyResolver
	router    *router.Router
	mover     router.FileMover
	logger    *slog.Logger
}

func NewManualResolver(
	db *repository.DB,
	customers *registry.CustomerRegistry,
	vehicles *registry.VehicleIndex,
	legacy *LegacyResolver,
	rt *router.Router,
	mover router.FileMover,
	logger *slog.Logger,
) *ManualResolver {
	if logger == nil {
		logger = slog.Default()
	}
	if mover == nil {
		mover = router.OSMover{Logger: logger}
	}
	return &ManualResolver{
		db:        db,
		pending:   repository.NewPendingRepository(db, logger),
		customers: customers,
		vehicles:  vehicles,
		legacy:    legacy,
		router:    rt,
		mover:     mover,
		logger:    logger,
	}
}

// Resolve files pending entry id under customerNumber. The document insert, the pending
// delete and the vehicle binding commit together with the file move; on any failure the
// entry and its file stay where they were.
func (m *ManualResolver) Resolve(ctx context.Context, id int64, customerNumber string) (*entity.Document, error) {
	customer, ok := m.customers.Lookup(customerNumber)
	if !ok {
		return nil, fmt.Errorf("resolve pending %d: customer %s: %w", id, customerNumber, common.ErrNotFound)
	}
	entry, err := m.pending.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve pending %d: %w", id, err)
	}

	fields := entry.Fields().WithCustomer(customer)
	if consistent, err := m.legacy.ValidateMatch(ctx, fields, customerNumber); err != nil {
		return nil, fmt.Errorf("resolve pending %d: %w", id, err)
	} else if !consistent {
		m.logger.Warn("manual resolution rebinds vehicle", "pending_id", id, "vehicle_id", entry.VehicleID, "customer_number", customerNumber)
	}

	var (
		doc    *entity.Document
		target string
		moved  bool
	)
	err = m.db.RunInTx(ctx, func(tx *repository.Tx) error {
		current, err := tx.Pending.Get(ctx, id)
		if err != nil {
			return err
		}
		target, err = m.router.Route(fields, "", filepath.Ext(current.FilePath))
		if err != nil {
			return err
		}
		if target, err = m.router.Unique(target); err != nil {
			return err
		}

		d := entity.DocumentFromFields(fields)
		d.SourceFilename = current.SourceFilename
		d.OriginalPath = current.OriginalPath
		d.TargetPath = target
		d.ContentHash = current.ContentHash
		d.Confidence = classify.Score(fields)
		d.Status = constants.StatusLegacyFiled
		if d.Confidence < classify.UnclearThreshold {
			d.Status = constants.StatusLegacyUnclear
		}
		reason := current.MatchReason
		d.ResolutionReason = &reason
		if _, err := tx.Documents.InsertOne(ctx, &d); err != nil {
			return err
		}
		if err := tx.Pending.Delete(ctx, id); err != nil {
			return err
		}
		if fields.VehicleID.Set {
			rec := VehicleRecordFor(fields, customerNumber)
			rec.UpdatedAt = time.Now().UTC()
			if err := tx.Vehicles.Replace(ctx, rec); err != nil {
				return err
			}
		}
		if err := m.mover.Move(current.FilePath, target); err != nil {
			return common.NewStageError("move", current.FilePath, err)
		}
		moved = true
		doc = &d
		return nil
	})
	if err != nil {
		if moved {
			if rerr := m.mover.Move(target, entry.FilePath); rerr != nil {
				m.logger.Error("failed to restore file after aborted resolution", "pending_id", id, "path", target, "error", rerr)
				err = errors.Join(err, rerr)
			}
		}
		m.logger.Error("manual resolution failed", "pending_id", id, "customer_number", customerNumber, "error", err)
		return nil, fmt.Errorf("resolve pending %d: %w", id, err)
	}

	if fields.VehicleID.Set {
		m.vehicles.Invalidate(fields.VehicleID.Value)
	}
	m.logger.Info("pending entry resolved",
		"pending_id", id, "document_id", doc.ID, "customer_number", customerNumber,
		"path", doc.TargetPath, "status", doc.Status)
	return doc, nil
}

// ResolveToVirtual allocates a virtual customer for the entry and files it there.
// name overrides the entry's extracted name when set.
func (m *ManualResolver) ResolveToVirtual(ctx context.Context, id int64, name string) (*entity.Document, error) {
	entry, err := m.pending.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resolve pending %d: %w", id, err)
	}
	if name == "" {
		name = entry.CustomerName
	}
	if name == "" {
		return nil, fmt.Errorf("resolve pending %d: %w: a name is required for a virtual customer", id, common.ErrInvalidInput)
	}
	fields := entity.CustomerFields{Name: entity.Some(name)}
	if entry.PostalCode != "" {
		fields.PostalCode = entity.Some(entry.PostalCode)
	}
	if entry.Street != "" {
		fields.Street = entity.Some(entry.Street)
	}
	c, err := m.customers.CreateVirtual(ctx, fields)
	if err != nil {
		return nil, err
	}
	return m.Resolve(ctx, id, c.Number)
}

// ListOpen returns the entries awaiting resolution.
func (m *ManualResolver) ListOpen(ctx context.Context) ([]entity.PendingLegacyEntry, error) {
	return m.pending.ListOpen(ctx)
}
