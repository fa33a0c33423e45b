package patterns

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"

	"github.com/joseph-ayodele/werkstatt-archive/constants"
	"github.com/joseph-ayodele/werkstatt-archive/internal/common"
)

// Pattern names understood by the extractor.
const (
	CustomerNumber = "customer_number"
	OrderNumber    = "order_number"
	Date           = "date"
	CustomerName   = "customer_name"
	VehicleID      = "vehicle_identifier"
	Plate          = "plate"
	PostalCode     = "postal_code"
	Street         = "street"
)

// Names lists every configurable pattern in a stable order.
var Names = []string{
	CustomerNumber, OrderNumber, Date, CustomerName, VehicleID, Plate, PostalCode, Street,
	constants.PatternTypeInvoice, constants.PatternTypeEstimate, constants.PatternTypeOrder,
	constants.PatternTypeInspection, constants.PatternTypeWarranty,
}

// Set is a named collection of pattern sources.
type Set struct {
	Name     string
	Patterns map[string]string
}

// Identity returns a content hash of the set. Two sets with equal identity compile identically.
func (s Set) Identity() string {
	keys := make([]string, 0, len(s.Patterns))
	for k := range s.Patterns {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	h.Write([]byte(s.Name))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(s.Patterns[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Clone returns a deep copy of s.
func (s Set) Clone() Set {
	out := Set{Name: s.Name, Patterns: make(map[string]string, len(s.Patterns))}
	for k, v := range s.Patterns {
		out.Patterns[k] = v
	}
	return out
}

// PatternLoadError names the pattern that failed to compile.
type PatternLoadError struct {
	Set     string
	Name    string
	Pattern string
	Err     error
}

func (e *PatternLoadError) Error() string {
	return fmt.Sprintf("pattern set %q: pattern %q (%s): %v", e.Set, e.Name, e.Pattern, e.Err)
}

func (e *PatternLoadError) Unwrap() []error {
	return []error{common.ErrPatternLoad, e.Err}
}

// Compiled is an immutable compiled pattern set.
type Compiled struct {
	name     string
	identity string
	byName   map[string]*regexp.Regexp
}

// Compile compiles every pattern of s. Names are visited in sorted order so the reported error is stable.
func Compile(s Set) (*Compiled, error) {
	keys := make([]string, 0, len(s.Patterns))
	for k := range s.Patterns {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	c := &Compiled{name: s.Name, identity: s.Identity(), byName: make(map[string]*regexp.Regexp, len(keys))}
	for _, k := range keys {
		if !known(k) {
			return nil, &PatternLoadError{Set: s.Name, Name: k, Pattern: s.Patterns[k], Err: fmt.Errorf("unknown pattern name")}
		}
		re, err := regexp.Compile(s.Patterns[k])
		if err != nil {
			return nil, &PatternLoadError{Set: s.Name, Name: k, Pattern: s.Patterns[k], Err: err}
		}
		c.byName[k] = re
	}
	return c, nil
}

func known(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}

// Name returns the set name.
func (c *Compiled) Name() string { return c.name }

// Identity returns the identity of the source set.
func (c *Compiled) Identity() string { return c.identity }

// Match reports whether the named pattern matches text. Missing patterns never match.
func (c *Compiled) Match(name, text string) bool {
	re, ok := c.byName[name]
	return ok && re.MatchString(text)
}

// Find returns the captured value of the first match of the named pattern.
// The group named "value" wins, then group 1, then the whole match.
func (c *Compiled) Find(name, text string) (string, bool) {
	re, ok := c.byName[name]
	if !ok {
		return "", false
	}
	m := re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	if i := re.SubexpIndex("value"); i > 0 && m[i] != "" {
		return m[i], true
	}
	if len(m) > 1 && m[1] != "" {
		return m[1], true
	}
	return m[0], m[0] != ""
}

// FindAll returns the captured values of every match of the named pattern.
func (c *Compiled) FindAll(name, text string) []string {
	re, ok := c.byName[name]
	if !ok {
		return nil
	}
	idx := re.SubexpIndex("value")
	var out []string
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		switch {
		case idx > 0 && m[idx] != "":
			out = append(out, m[idx])
		case len(m) > 1 && m[1] != "":
			out = append(out, m[1])
		case m[0] != "":
			out = append(out, m[0])
		}
	}
	return out
}
