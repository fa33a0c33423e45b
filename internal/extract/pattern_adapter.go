package extract

import (
	"context"
	"log/slog"

	"github.com/joseph-ayodele/werkstatt-archive/internal/entity"
	"github.com/joseph-ayodele/werkstatt-archive/internal/patterns"
)

// PatternAdapter extracts fields with a named set from a pattern library.
// The set is looked up per call so a reloaded library takes effect immediately.
type PatternAdapter struct {
	lib    *patterns.Library
	set    string
	ex     *patterns.Extractor
	logger *slog.Logger
}

func NewPatternAdapter(lib *patterns.Library, setName string, ex *patterns.Extractor, logger *slog.Logger) *PatternAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	if setName == "" {
		setName = patterns.SetStandard
	}
	return &PatternAdapter{lib: lib, set: setName, ex: ex, logger: logger}
}

func (a *PatternAdapter) ExtractFields(_ context.Context, text string) (entity.FieldMap, error) {
	compiled, err := a.lib.Compiled(a.set)
	if err != nil {
		return entity.FieldMap{}, err
	}
	return a.ex.Extract(text, compiled), nil
}
