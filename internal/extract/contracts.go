// Package extract defines the two extraction stages the pipeline consumes.
package extract

import (
	"context"

	"github.com/joseph-ayodele/werkstatt-archive/internal/entity"
)

// TextExtractor is Stage 1: file -> text and page count.
// Unreadable input fails with an error wrapping common.ErrExtractionFailure.
type TextExtractor interface {
	ExtractText(ctx context.Context, path string) (text string, pages int, err error)
}

// FieldExtractor is Stage 2: text -> field map.
type FieldExtractor interface {
	ExtractFields(ctx context.Context, text string) (entity.FieldMap, error)
}
