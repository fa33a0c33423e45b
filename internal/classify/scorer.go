// Package classify scores extracted fields and assigns document-type labels.
package classify

import (
	"github.com/joseph-ayodele/werkstatt-archive/constants"
	"github.com/joseph-ayodele/werkstatt-archive/internal/entity"
)

// Scoring weights and the unclear threshold are fixed business policy.
const (
	WeightCustomerNumber = 0.4
	WeightOrderNumber    = 0.3
	WeightDocumentType   = 0.2
	WeightPlausibleYear  = 0.1

	UnclearThreshold = 0.6
)

// Score returns the additive confidence of f, clamped to [0,1].
func Score(f entity.FieldMap) float64 {
	score := 0.0
	if f.CustomerNumber.Set {
		score += WeightCustomerNumber
	}
	if f.OrderNumber.Set {
		score += WeightOrderNumber
	}
	if f.DocumentType.Set && f.DocumentType.Value != constants.TypeFallback {
		score += WeightDocumentType
	}
	if f.Year.Set {
		score += WeightPlausibleYear
	}
	return clamp(round(score))
}

// IsUnclear reports whether a document with fields f and score must be treated as unclear.
func IsUnclear(f entity.FieldMap, score float64) bool {
	return !f.CustomerNumber.Set || score < UnclearThreshold
}

// round removes float accumulation noise (0.4+0.2 == 0.6000000000000001).
func round(v float64) float64 {
	const scale = 1e9
	if v < 0 {
		return -round(-v)
	}
	return float64(int64(v*scale+0.5)) / scale
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
