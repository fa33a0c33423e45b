package patterns

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/werkstatt-archive/internal/classify"
	"github.com/joseph-ayodele/werkstatt-archive/internal/entity"
)

// MinPlausibleYear is the earliest document year accepted from a date.
const MinPlausibleYear = 2000

var dateParts = regexp.MustCompile(`^(\d{1,2})[./](\d{1,2})[./](\d{2}|\d{4})$`)

// Extractor turns raw document text into a field map.
type Extractor struct {
	now        func() time.Time
	classifier *classify.TypeClassifier
	logger     *slog.Logger
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithClock sets the clock used for year plausibility.
func WithClock(now func() time.Time) ExtractorOption {
	return func(e *Extractor) {
		if now != nil {
			e.now = now
		}
	}
}

// NewExtractor creates an extractor with the default type classifier.
func NewExtractor(logger *slog.Logger, opts ...ExtractorOption) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Extractor{now: time.Now, classifier: classify.NewTypeClassifier(), logger: logger}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract applies set to text. Patterns that do not match leave their field absent.
func (e *Extractor) Extract(text string, set *Compiled) entity.FieldMap {
	var f entity.FieldMap

	if v, ok := set.Find(CustomerNumber, text); ok {
		f.CustomerNumber = entity.Some(strings.TrimSpace(v))
	}
	if v, ok := set.Find(OrderNumber, text); ok {
		f.OrderNumber = entity.Some(strings.TrimSpace(v))
	}
	if v, ok := set.Find(CustomerName, text); ok {
		f.CustomerName = entity.Some(strings.TrimSpace(v))
	}
	for _, v := range set.FindAll(VehicleID, text) {
		if vin := NormalizeVehicleID(v); looksLikeVehicleID(vin) {
			f.VehicleID = entity.Some(vin)
			break
		}
	}
	if v, ok := set.Find(Plate, text); ok {
		f.Plate = entity.Some(NormalizePlate(v))
	}
	if v, ok := set.Find(PostalCode, text); ok {
		f.PostalCode = entity.Some(v)
	}
	if v, ok := set.Find(Street, text); ok {
		f.Street = entity.Some(strings.TrimSpace(v))
	}

	for _, raw := range set.FindAll(Date, text) {
		d, ok := ParseDate(raw)
		if !ok {
			continue
		}
		f.DocumentDate = entity.Some(d)
		if y := d.Year(); y >= MinPlausibleYear && y <= e.now().Year()+1 {
			f.Year = entity.Some(y)
		}
		break
	}

	if label, ok := e.classifier.Classify(text, set); ok {
		f.DocumentType = entity.Some(label)
	}

	e.logger.Debug("fields extracted",
		"set", set.Name(),
		"customer_number", f.CustomerNumber.Value,
		"order_number", f.OrderNumber.Value,
		"vehicle_id", f.VehicleID.Value,
		"type", f.TypeLabel(),
	)
	return f
}

// ParseDate parses d.m.yyyy, d.m.yy, and the slash forms. Two-digit years are 20yy.
func ParseDate(s string) (time.Time, bool) {
	m := dateParts.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if len(m[3]) == 2 {
		year += 2000
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}

// NormalizeVehicleID uppercases and strips blanks.
func NormalizeVehicleID(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}

// NormalizePlate uppercases and collapses whitespace to single blanks.
func NormalizePlate(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

func looksLikeVehicleID(s string) bool {
	return strings.ContainsAny(s, "ABCDEFGHJKLMNPRSTUVWXYZ") && strings.ContainsAny(s, "0123456789")
}
