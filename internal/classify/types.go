package classify

import "github.com/joseph-ayodele/werkstatt-archive/constants"

// Matcher reports whether the named keyword pattern matches text.
type Matcher interface {
	Match(name, text string) bool
}

// TypeClassifier assigns exactly one label using first-match-wins over ordered categories.
type TypeClassifier struct {
	categories []constants.TypeCategory
}

// NewTypeClassifier uses the canonical category order.
func NewTypeClassifier() *TypeClassifier {
	return &TypeClassifier{categories: constants.TypeCategories}
}

// Classify returns the first matching label, or the fallback label and false.
func (c *TypeClassifier) Classify(text string, m Matcher) (string, bool) {
	for _, cat := range c.categories {
		if m.Match(cat.Pattern, text) {
			return cat.Label, true
		}
	}
	return constants.TypeFallback, false
}
