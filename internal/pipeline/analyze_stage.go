package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/joseph-ayodele/werkstatt-archive/internal/classify"
	"github.com/joseph-ayodele/werkstatt-archive/internal/common"
	"github.com/joseph-ayodele/werkstatt-archive/internal/entity"
	"github.com/joseph-ayodele/werkstatt-archive/internal/extract"
	"github.com/joseph-ayodele/werkstatt-archive/internal/ocr"
)

// Analysis is the classification of one source file.
type Analysis struct {
	Text   string
	Fields entity.FieldMap
	Score  float64
}

type AnalyzeStage struct {
	Text   extract.TextExtractor
	Fields extract.FieldExtractor
	Logger *slog.Logger
}

func NewAnalyzeStage(text extract.TextExtractor, fields extract.FieldExtractor, logger *slog.Logger) *AnalyzeStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalyzeStage{Text: text, Fields: fields, Logger: logger}
}

// Run extracts text and fields from path and scores them. Extraction failures come back
// as *common.StageError wrapping common.ErrExtractionFailure.
func (s *AnalyzeStage) Run(ctx context.Context, path, hash string) (Analysis, error) {
	text, pages, err := s.Text.ExtractText(ocr.WithContentHash(ctx, hash), path)
	if err != nil {
		return Analysis{}, common.NewStageError("extract", path, err)
	}
	if strings.TrimSpace(text) == "" {
		s.Logger.Warn("no text extracted", "path", path)
	}

	fields, err := s.Fields.ExtractFields(ctx, text)
	if err != nil {
		return Analysis{}, common.NewStageError("fields", path, err)
	}
	if pages > 0 {
		fields.PageCount = entity.Some(pages)
	}
	a := Analysis{Text: text, Fields: fields, Score: classify.Score(fields)}
	s.Logger.Debug("document analyzed",
		"path", path,
		"customer_number", fields.CustomerNumber.Value,
		"order_number", fields.OrderNumber.Value,
		"type", fields.TypeLabel(),
		"year", fields.Year.Value,
		"vehicle_id", fields.VehicleID.Value,
		"score", a.Score,
	)
	return a, nil
}
