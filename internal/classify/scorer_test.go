package classify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/werkstatt-archive/constants"
	"github.com/joseph-ayodele/werkstatt-archive/internal/entity"
)

// fieldsFor sets the four score-contributing fields from a bitmask.
func fieldsFor(mask int) entity.FieldMap {
	var f entity.FieldMap
	if mask&1 != 0 {
		f.CustomerNumber = entity.Some("20001")
	}
	if mask&2 != 0 {
		f.OrderNumber = entity.Some("500100")
	}
	if mask&4 != 0 {
		f.DocumentType = entity.Some(constants.TypeInvoice)
	}
	if mask&8 != 0 {
		f.Year = entity.Some(2024)
		f.DocumentDate = entity.Some(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC))
	}
	return f
}

func TestScore_AllCombinations(t *testing.T) {
	weights := []float64{WeightCustomerNumber, WeightOrderNumber, WeightDocumentType, WeightPlausibleYear}
	for mask := 0; mask < 16; mask++ {
		f := fieldsFor(mask)
		want := 0.0
		for bit, w := range weights {
			if mask&(1<<bit) != 0 {
				want += w
			}
		}
		got := Score(f)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, 1.0)
		assert.InDelta(t, want, got, 1e-9, "mask %04b", mask)
		assert.Equal(t, got, Score(f), "score must be a pure function")

		wantUnclear := mask&1 == 0 || want < UnclearThreshold-1e-9
		assert.Equal(t, wantUnclear, IsUnclear(f, got), "mask %04b score %.2f", mask, got)
	}
}

func TestScore_FallbackTypeDoesNotCount(t *testing.T) {
	f := entity.FieldMap{DocumentType: entity.Some(constants.TypeFallback)}
	assert.Equal(t, 0.0, Score(f))
}

func TestScore_ThresholdBoundary(t *testing.T) {
	// customer + type = 0.6 exactly, which is not unclear
	f := fieldsFor(1 | 4)
	require.Equal(t, 0.6, Score(f))
	assert.False(t, IsUnclear(f, Score(f)))

	// customer + year = 0.5
	f = fieldsFor(1 | 8)
	assert.True(t, IsUnclear(f, Score(f)))

	// everything but the customer number is still unclear
	f = fieldsFor(2 | 4 | 8)
	assert.Equal(t, 0.6, Score(f))
	assert.True(t, IsUnclear(f, Score(f)))
}

func TestScore_Full(t *testing.T) {
	assert.Equal(t, 1.0, Score(fieldsFor(15)))
}

type keywordMatcher map[string]bool

func (m keywordMatcher) Match(name, _ string) bool { return m[name] }

func TestTypeClassifier_FirstMatchWins(t *testing.T) {
	c := NewTypeClassifier()

	label, ok := c.Classify("", keywordMatcher{
		constants.PatternTypeOrder:   true,
		constants.PatternTypeInvoice: true,
	})
	require.True(t, ok)
	assert.Equal(t, constants.TypeInvoice, label)

	label, ok = c.Classify("", keywordMatcher{constants.PatternTypeWarranty: true})
	require.True(t, ok)
	assert.Equal(t, constants.TypeWarranty, label)

	label, ok = c.Classify("", keywordMatcher{})
	assert.False(t, ok)
	assert.Equal(t, constants.TypeFallback, label)
}
