// Package pipeline runs one intake file end to end: extraction, scoring, resolution,
// routing, the file move and the store write.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joseph-ayodele/werkstatt-archive/constants"
	"github.com/joseph-ayodele/werkstatt-archive/internal/common"
	"github.com/joseph-ayodele/werkstatt-archive/internal/repository"
)

// Processor coordinates the analyze stage, then the file stage.
type Processor struct {
	logger    *slog.Logger
	analyze   *AnalyzeStage
	file      *FileStage
	documents repository.DocumentRepository
	pending   repository.PendingRepository
}

func NewProcessor(logger *slog.Logger, analyze *AnalyzeStage, file *FileStage) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		logger:    logger,
		analyze:   analyze,
		file:      file,
		documents: file.Documents,
		pending:   file.Pending,
	}
}

// ProcessFile classifies and files the document at path. A file whose content was already
// archived is reported as Duplicate and left where it is. Extraction failures leave the file
// in place and return an error wrapping common.ErrExtractionFailure.
func (p *Processor) ProcessFile(ctx context.Context, path string) (Result, error) {
	logger := common.LoggerFrom(ctx, p.logger).With("path", path)

	abs, err := filepath.Abs(path)
	if err != nil {
		return Result{}, common.NewStageError("open", path, err)
	}
	if !constants.IsAllowedExt(filepath.Ext(abs)) {
		return Result{}, common.NewStageError("open", abs, fmt.Errorf("%w: unsupported extension %q", common.ErrInvalidInput, filepath.Ext(abs)))
	}
	if st, err := os.Stat(abs); err != nil {
		return Result{}, common.NewStageError("open", abs, err)
	} else if st.IsDir() {
		return Result{}, common.NewStageError("open", abs, fmt.Errorf("%w: is a directory", common.ErrInvalidInput))
	}

	hash, err := HashFile(abs)
	if err != nil {
		return Result{}, common.NewStageError("hash", abs, err)
	}
	if res, dup, err := p.existing(ctx, abs, hash); err != nil || dup {
		if dup {
			logger.Info("document already archived", "target_path", res.TargetPath, "document_id", res.DocumentID, "pending_id", res.PendingID)
		}
		return res, err
	}

	a, err := p.analyze.Run(ctx, abs, hash)
	if err != nil {
		logger.Error("processor.extract.failed", "error", err)
		return Result{Source: abs, Hash: hash}, err
	}

	res, err := p.file.Run(ctx, abs, hash, a)
	if err != nil {
		logger.Error("processor.file.failed", "error", err)
		return Result{Source: abs, Hash: hash}, err
	}
	logger.Info("document processed",
		"disposition", res.Disposition,
		"target_path", res.TargetPath,
		"customer_number", res.CustomerNumber,
		"score", res.Score,
		"reason", res.Reason,
	)
	return res, nil
}

func (p *Processor) existing(ctx context.Context, path, hash string) (Result, bool, error) {
	doc, err := p.documents.GetByHash(ctx, hash)
	switch {
	case err == nil:
		return Result{
			Source: path, Hash: hash, Disposition: Duplicate, DocumentID: doc.ID,
			TargetPath: doc.TargetPath, CustomerNumber: doc.CustomerNumber, Score: doc.Confidence,
		}, true, nil
	case !errors.Is(err, common.ErrNotFound):
		return Result{}, false, common.NewStageError("dedup", path, err)
	}

	pe, err := p.pending.GetByHash(ctx, hash)
	switch {
	case err == nil:
		return Result{
			Source: path, Hash: hash, Disposition: Duplicate, PendingID: pe.ID,
			TargetPath: pe.FilePath, Score: pe.Confidence, Reason: pe.MatchReason,
		}, true, nil
	case !errors.Is(err, common.ErrNotFound):
		return Result{}, false, common.NewStageError("dedup", path, err)
	}
	return Result{}, false, nil
}
