// Package merge folds a virtual customer into a real one and moves its documents.
package merge

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joseph-ayodele/werkstatt-archive/internal/common"
	"github.com/joseph-ayodele/werkstatt-archive/internal/entity"
	"github.com/joseph-ayodele/werkstatt-archive/internal/repository"
	"github.com/joseph-ayodele/werkstatt-archive/internal/router"
)

// OpStatus is the state of one planned rename.
type OpStatus int

const (
	OpPending OpStatus = iota
	OpDone
	OpFailed
)

func (s OpStatus) String() string {
	switch s {
	case OpDone:
		return "done"
	case OpFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Operation moves one document from OldPath to NewPath.
type Operation struct {
	DocumentID int64
	OldPath    string
	NewPath    string
	Status     OpStatus
	Err        error
}

// Report is the per-document outcome of a merge run. Complete is true only when every
// planned operation succeeded.
type Report struct {
	RunID      ulid.ULID
	Virtual    string
	Real       string
	Operations []Operation
	Vehicles   int
	Complete   bool
}

func (r Report) filter(s OpStatus) []Operation {
	var out []Operation
	for _, op := range r.Operations {
		if op.Status == s {
			out = append(out, op)
		}
	}
	return out
}

// Succeeded returns the operations that were applied to disk and store.
func (r Report) Succeeded() []Operation { return r.filter(OpDone) }

// Failed returns the operation that stopped the run.
func (r Report) Failed() []Operation { return r.filter(OpFailed) }

// Pending returns operations never attempted. Their documents keep the virtual number.
func (r Report) Pending() []Operation { return r.filter(OpPending) }

// CascadeError reports a partially applied merge.
type CascadeError struct {
	Report Report
}

func (e *CascadeError) Error() string {
	var failed []string
	for _, op := range e.Report.Failed() {
		failed = append(failed, fmt.Sprintf("%s: %v", op.OldPath, op.Err))
	}
	return fmt.Sprintf("merge %s into %s: %d moved, %d failed, %d not attempted: %s",
		e.Report.Virtual, e.Report.Real, len(e.Report.Succeeded()), len(e.Report.Failed()),
		len(e.Report.Pending()), strings.Join(failed, "; "))
}

func (e *CascadeError) Unwrap() error {
	return common.ErrCascadeFile
}

// Binder is the registry operation a merge starts with.
type Binder interface {
	Bind(ctx context.Context, virtualNumber, realNumber string, fields entity.CustomerFields) (entity.Customer, error)
}

// VehicleRebinder moves vehicle bindings between customers.
type VehicleRebinder interface {
	Rebind(ctx context.Context, from, to string) (int, error)
}

// Cascade runs identity merges.
type Cascade struct {
	customers Binder
	vehicles  VehicleRebinder
	documents repository.DocumentRepository
	router    *router.Router
	mover     router.FileMover
	logger    *slog.Logger
}

func NewCascade(
	customers Binder,
	vehicles VehicleRebinder,
	documents repository.DocumentRepository,
	rt *router.Router,
	mover router.FileMover,
	logger *slog.Logger,
) *Cascade {
	if logger == nil {
		logger = slog.Default()
	}
	if mover == nil {
		mover = router.OSMover{Logger: logger}
	}
	return &Cascade{customers: customers, vehicles: vehicles, documents: documents, router: rt, mover: mover, logger: logger}
}

// Merge binds virtualNumber to realNumber, then plans and executes one rename per document of
// the virtual customer. The first failed rename stops the run. The registry bind and every
// rename already done stay in place; a *CascadeError carries the report. Running Merge again
// continues with the documents that still carry the virtual number.
func (c *Cascade) Merge(ctx context.Context, virtualNumber, realNumber string, fields entity.CustomerFields) (Report, error) {
	report := Report{RunID: ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader), Virtual: virtualNumber, Real: realNumber}
	logger := c.logger.With("run_id", report.RunID.String(), "virtual", virtualNumber, "real", realNumber)

	bound, err := c.customers.Bind(ctx, virtualNumber, realNumber, fields)
	if err != nil {
		return report, fmt.Errorf("merge: %w", err)
	}
	if report.Vehicles, err = c.vehicles.Rebind(ctx, virtualNumber, realNumber); err != nil {
		return report, fmt.Errorf("merge: rebind vehicles: %w", err)
	}

	docs, err := c.documents.ListByCustomer(ctx, virtualNumber)
	if err != nil {
		return report, fmt.Errorf("merge: list documents: %w", err)
	}
	for _, d := range docs {
		target, err := c.router.Route(d.Fields().WithCustomer(bound), "", filepath.Ext(d.TargetPath))
		if err != nil {
			return report, fmt.Errorf("merge: plan document %d: %w", d.ID, err)
		}
		report.Operations = append(report.Operations, Operation{DocumentID: d.ID, OldPath: d.TargetPath, NewPath: target})
	}
	logger.Info("merge planned", "documents", len(report.Operations), "vehicles", report.Vehicles)

	for i := range report.Operations {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		op := &report.Operations[i]
		if err := c.apply(ctx, op, bound); err != nil {
			op.Status, op.Err = OpFailed, err
			logger.Error("merge stopped", "document_id", op.DocumentID, "path", op.OldPath, "error", err)
			return report, &CascadeError{Report: report}
		}
		op.Status = OpDone
	}

	report.Complete = true
	logger.Info("merge complete", "documents", len(report.Operations))
	return report, nil
}

func (c *Cascade) apply(ctx context.Context, op *Operation, bound entity.Customer) error {
	if op.NewPath != op.OldPath {
		target, err := c.router.Unique(op.NewPath)
		if err != nil {
			return err
		}
		if err := c.mover.Move(op.OldPath, target); err != nil {
			return err
		}
		op.NewPath = target
	}
	if err := c.documents.UpdatePath(ctx, op.DocumentID, op.NewPath, bound.Number, bound.Name); err != nil {
		if op.NewPath != op.OldPath {
			if rerr := c.mover.Move(op.NewPath, op.OldPath); rerr != nil {
				c.logger.Error("failed to restore file after store error", "path", op.NewPath, "error", rerr)
			}
		}
		return err
	}
	return nil
}
