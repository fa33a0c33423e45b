package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/joseph-ayodele/werkstatt-archive/constants"
	"github.com/joseph-ayodele/werkstatt-archive/internal/classify"
	"github.com/joseph-ayodele/werkstatt-archive/internal/common"
	"github.com/joseph-ayodele/werkstatt-archive/internal/entity"
	"github.com/joseph-ayodele/werkstatt-archive/internal/repository"
	"github.com/joseph-ayodele/werkstatt-archive/internal/resolver"
	"github.com/joseph-ayodele/werkstatt-archive/internal/router"
)

// Disposition says what the pipeline did with a file.
type Disposition string

const (
	Filed         Disposition = "filed"
	Unclear       Disposition = "unclear"
	LegacyFiled   Disposition = "legacy_filed"
	LegacyUnclear Disposition = "legacy_unclear"
	Pending       Disposition = "pending"
	Duplicate     Disposition = "duplicate"
)

// Result describes one processed file.
type Result struct {
	Source         string
	Hash           string
	Disposition    Disposition
	DocumentID     int64
	PendingID      int64
	TargetPath     string
	CustomerNumber string
	Score          float64
	Reason         constants.MatchReason
}

// CustomerLookup is the registry view the file stage reads.
type CustomerLookup interface {
	Lookup(number string) (entity.Customer, bool)
}

type FileStage struct {
	Documents repository.DocumentRepository
	Pending   repository.PendingRepository
	Customers CustomerLookup
	Resolver  *resolver.LegacyResolver
	Router    *router.Router
	Mover     router.FileMover
	Profile   string
	Logger    *slog.Logger

	locks *keyedLocks
}

func NewFileStage(
	documents repository.DocumentRepository,
	pending repository.PendingRepository,
	customers CustomerLookup,
	res *resolver.LegacyResolver,
	rt *router.Router,
	mover router.FileMover,
	profile string,
	logger *slog.Logger,
) *FileStage {
	if logger == nil {
		logger = slog.Default()
	}
	if mover == nil {
		mover = router.OSMover{Logger: logger}
	}
	return &FileStage{
		Documents: documents,
		Pending:   pending,
		Customers: customers,
		Resolver:  res,
		Router:    rt,
		Mover:     mover,
		Profile:   profile,
		Logger:    logger,
		locks:     newKeyedLocks(),
	}
}

// plan is the decided destination of a file before anything is moved.
type plan struct {
	key      string
	target   string
	doc      *entity.Document
	pending  *entity.PendingLegacyEntry
	fields   entity.FieldMap
	outcome  resolver.Outcome
	disp     Disposition
	customer string
}

// Run decides the destination of src, moves it, and records it. The move and the record are
// done under a lock on the destination customer, so one customer folder sees one writer.
func (s *FileStage) Run(ctx context.Context, src, hash string, a Analysis) (Result, error) {
	p, err := s.decide(ctx, src, a)
	if err != nil {
		return Result{}, common.NewStageError("route", src, err)
	}

	unlock := s.locks.Lock(p.key)
	defer unlock()

	target, err := s.Router.Unique(p.target)
	if err != nil {
		return Result{}, common.NewStageError("route", src, err)
	}
	if err := s.Mover.Move(src, target); err != nil {
		return Result{}, common.NewStageError("move", src, err)
	}

	res := Result{Source: src, Hash: hash, Disposition: p.disp, TargetPath: target, CustomerNumber: p.customer, Score: a.Score}
	if p.doc != nil {
		p.doc.SourceFilename = filepath.Base(src)
		p.doc.OriginalPath = src
		p.doc.TargetPath = target
		p.doc.ContentHash = hash
		s.warnDuplicateOrder(ctx, p.doc)
		id, err := s.Documents.InsertOne(ctx, p.doc)
		if err != nil {
			return Result{}, s.restore(src, target, common.NewStageError("store", src, err))
		}
		res.DocumentID = id
		res.Score = p.doc.Confidence
		if p.doc.ResolutionReason != nil {
			res.Reason = *p.doc.ResolutionReason
		}
	} else {
		p.pending.SourceFilename = filepath.Base(src)
		p.pending.OriginalPath = src
		p.pending.FilePath = target
		p.pending.ContentHash = hash
		id, err := s.Pending.Create(ctx, p.pending)
		if err != nil {
			return Result{}, s.restore(src, target, common.NewStageError("store", src, err))
		}
		res.PendingID = id
		res.Reason = p.pending.MatchReason
	}

	if p.outcome.Kind == resolver.Resolved {
		if err := s.Resolver.Learn(ctx, p.fields, p.outcome); err != nil {
			s.Logger.Error("failed to register vehicle after resolution", "path", target, "error", err)
		}
	}
	return res, nil
}

func (s *FileStage) decide(ctx context.Context, src string, a Analysis) (plan, error) {
	ext := filepath.Ext(src)
	fields := a.Fields

	if num, ok := fields.CustomerNumber.Get(); ok {
		c, known := s.Customers.Lookup(num)
		if known {
			fields = fields.WithCustomer(c)
		}
		doc := entity.DocumentFromFields(fields)
		doc.Confidence = a.Score
		if !known || classify.IsUnclear(fields, a.Score) {
			if !known {
				s.Logger.Info("customer number not in registry", "path", src, "customer_number", num)
			}
			doc.Status = constants.StatusUnclear
			return plan{key: "_unclear", target: s.Router.UnclearPath(fields, ext), doc: &doc, fields: fields, disp: Unclear, customer: num}, nil
		}
		target, err := s.Router.Route(fields, s.Profile, ext)
		if err != nil {
			return plan{}, err
		}
		doc.Status = constants.StatusFiled
		return plan{key: num, target: target, doc: &doc, fields: fields, disp: Filed, customer: num}, nil
	}

	outcome, err := s.Resolver.Resolve(ctx, fields)
	if err != nil {
		return plan{}, err
	}
	if outcome.Kind != resolver.Resolved {
		pe := entity.PendingFromFields(fields)
		pe.Confidence = a.Score
		pe.MatchReason = outcome.Reason
		pe.Status = constants.PendingOpen
		s.Logger.Info("legacy document not resolved", "path", src, "outcome", outcome.Kind.String(),
			"reason", outcome.Reason, "detail", outcome.Detail)
		return plan{key: "_pending", target: s.Router.UnresolvedPath(filepath.Base(src)), pending: &pe, fields: fields, outcome: outcome, disp: Pending}, nil
	}

	num := outcome.CustomerNumber
	if c, ok := s.Customers.Lookup(num); ok {
		fields = fields.WithCustomer(c)
	} else {
		fields.CustomerNumber = entity.Some(num)
	}
	score := classify.Score(fields)
	doc := entity.DocumentFromFields(fields)
	doc.Confidence = score
	reason := constants.ReasonNone
	doc.ResolutionReason = &reason
	disp := LegacyFiled
	doc.Status = constants.StatusLegacyFiled
	if score < classify.UnclearThreshold {
		disp = LegacyUnclear
		doc.Status = constants.StatusLegacyUnclear
	}
	target, err := s.Router.Route(fields, s.Profile, ext)
	if err != nil {
		return plan{}, err
	}
	s.Logger.Info("legacy document resolved", "path", src, "rule", outcome.Rule, "customer_number", num, "score", score)
	return plan{key: num, target: target, doc: &doc, fields: fields, outcome: outcome, disp: disp, customer: num}, nil
}

func (s *FileStage) warnDuplicateOrder(ctx context.Context, d *entity.Document) {
	if d.OrderNumber == "" {
		return
	}
	exists, err := s.Documents.ExistsByOrder(ctx, d.OrderNumber, d.DocumentType)
	if err != nil {
		s.Logger.Warn("duplicate order check failed", "order_number", d.OrderNumber, "error", err)
		return
	}
	if exists {
		s.Logger.Warn("order already archived with this type", "order_number", d.OrderNumber, "type", d.DocumentType, "path", d.OriginalPath)
	}
}

// restore moves target back to src after a failed store write.
func (s *FileStage) restore(src, target string, cause error) error {
	if err := s.Mover.Move(target, src); err != nil {
		s.Logger.Error("failed to restore file after store error", "path", target, "source", src, "error", err)
		return errors.Join(cause, fmt.Errorf("restore %s: %w", target, err))
	}
	return cause
}
