package entity

import (
	"time"

	"github.com/joseph-ayodele/werkstatt-archive/constants"
)

// Opt is a present/absent field value.
type Opt[T any] struct {
	Value T
	Set   bool
}

// Some returns a present value.
func Some[T any](v T) Opt[T] {
	return Opt[T]{Value: v, Set: true}
}

// Get returns the value and whether it is present.
func (o Opt[T]) Get() (T, bool) {
	return o.Value, o.Set
}

// OrElse returns the value if present, else def.
func (o Opt[T]) OrElse(def T) T {
	if o.Set {
		return o.Value
	}
	return def
}

// FieldMap is the fixed set of fields the extractor can produce for one document.
type FieldMap struct {
	CustomerNumber Opt[string]
	CustomerName   Opt[string]
	OrderNumber    Opt[string]
	DocumentDate   Opt[time.Time]
	Year           Opt[int] // only set for plausible dates
	DocumentType   Opt[string]
	VehicleID      Opt[string]
	Plate          Opt[string]
	PostalCode     Opt[string]
	Street         Opt[string]
	PageCount      Opt[int]
}

// TypeLabel returns the matched document type or the fallback label.
func (f FieldMap) TypeLabel() string {
	return f.DocumentType.OrElse(constants.TypeFallback)
}

// WithCustomer returns a copy bound to the given customer.
func (f FieldMap) WithCustomer(c Customer) FieldMap {
	f.CustomerNumber = Some(c.Number)
	if c.Name != "" {
		f.CustomerName = Some(c.Name)
	}
	return f
}
