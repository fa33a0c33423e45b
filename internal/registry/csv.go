package registry

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/joseph-ayodele/werkstatt-archive/internal/common"
	"github.com/joseph-ayodele/werkstatt-archive/internal/entity"
)

// ImportStats summarizes a source import.
type ImportStats struct {
	Rows      int
	Imported  int
	Skipped   int
	Conflicts int // vehicle identifiers listed for more than one customer
}

// decodeReader wraps r for the configured charset. Legacy exports from the shop system are Windows-1252.
func decodeReader(r io.Reader, charset string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "", "utf-8", "utf8":
		return r, nil
	case "windows-1252", "cp1252":
		return transform.NewReader(r, charmap.Windows1252.NewDecoder()), nil
	case "iso-8859-1", "latin1", "iso8859-1":
		return transform.NewReader(r, charmap.ISO8859_1.NewDecoder()), nil
	default:
		return nil, fmt.Errorf("%w: unsupported charset %q", common.ErrInvalidInput, charset)
	}
}

// readRecords reads a delimited file. The delimiter is ';' when the first line contains one, else ','.
func readRecords(r io.Reader, charset string) ([][]string, error) {
	dr, err := decodeReader(r, charset)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(dr)
	first, err := br.Peek(4096)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, err
	}
	delim := ','
	line := string(first)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	if strings.Contains(line, ";") {
		delim = ';'
	}

	cr := csv.NewReader(br)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) > 0 && len(records[0]) > 0 {
		records[0][0] = strings.TrimPrefix(records[0][0], "\uFEFF")
	}
	return records, nil
}

// columns maps canonical column names to indexes. Without a header the positional layout is used.
func columns(records [][]string, aliases map[string][]string, positional []string, isHeader func([]string) bool) (map[string]int, [][]string) {
	idx := map[string]int{}
	if len(records) > 0 && isHeader(records[0]) {
		for i, h := range records[0] {
			h = strings.ToLower(strings.TrimSpace(h))
			for canon, names := range aliases {
				for _, n := range names {
					if h == n {
						idx[canon] = i
					}
				}
			}
		}
		return idx, records[1:]
	}
	for i, c := range positional {
		idx[c] = i
	}
	return idx, records
}

func field(rec []string, idx map[string]int, name string) (string, bool) {
	i, ok := idx[name]
	if !ok || i >= len(rec) {
		return "", false
	}
	return strings.TrimSpace(rec[i]), true
}

var customerAliases = map[string][]string{
	"number":      {"number", "kunden_nr", "kundennummer", "nr"},
	"name":        {"name", "kunden_name", "kunde"},
	"postal_code": {"postal_code", "plz"},
	"city":        {"city", "ort"},
	"street":      {"street", "strasse", "straße", "adresse"},
	"phone":       {"phone", "telefon", "tel"},
}

var customerPositional = []string{"number", "name", "postal_code", "city", "street", "phone"}

func looksLikeCustomerNumber(s string) bool {
	s = strings.TrimSpace(strings.TrimPrefix(s, "\uFEFF"))
	if entity.IsVirtualNumber(s) {
		return true
	}
	_, err := strconv.Atoi(s)
	return err == nil
}

// ImportCustomersFile imports a customer source file.
func (r *CustomerRegistry) ImportCustomersFile(ctx context.Context, path, charset string) (ImportStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return ImportStats{}, err
	}
	defer f.Close()
	return r.ImportCustomers(ctx, f, charset)
}

// ImportCustomers upserts every record. Duplicate numbers overwrite earlier ones.
func (r *CustomerRegistry) ImportCustomers(ctx context.Context, rd io.Reader, charset string) (ImportStats, error) {
	records, err := readRecords(rd, charset)
	if err != nil {
		return ImportStats{}, err
	}
	idx, rows := columns(records, customerAliases, customerPositional, func(h []string) bool {
		return len(h) > 0 && !looksLikeCustomerNumber(h[0])
	})
	if _, ok := idx["number"]; !ok {
		return ImportStats{}, fmt.Errorf("%w: customer source has no number column", common.ErrInvalidInput)
	}

	var stats ImportStats
	var maxVirtual int64
	for _, rec := range rows {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Rows++
		number, _ := field(rec, idx, "number")
		name, _ := field(rec, idx, "name")
		if number == "" || name == "" {
			stats.Skipped++
			r.logger.Warn("customer row skipped", "row", stats.Rows, "reason", "number and name are required")
			continue
		}
		fields := entity.CustomerFields{Name: entity.Some(name)}
		for col, dst := range map[string]*entity.Opt[string]{
			"postal_code": &fields.PostalCode, "city": &fields.City, "street": &fields.Street, "phone": &fields.Phone,
		} {
			if v, ok := field(rec, idx, col); ok {
				*dst = entity.Some(v)
			}
		}
		if _, err := r.Upsert(ctx, number, fields); err != nil {
			return stats, fmt.Errorf("import customer %s: %w", number, err)
		}
		if entity.IsVirtualNumber(number) {
			if n, err := strconv.ParseInt(strings.TrimPrefix(number, "VK"), 10, 64); err == nil && n > maxVirtual {
				maxVirtual = n
			}
		}
		stats.Imported++
	}
	if maxVirtual > 0 {
		if err := r.repo.SetCounterAtLeast(ctx, virtualCounter, maxVirtual); err != nil {
			return stats, err
		}
	}
	r.logger.Info("customers imported", "rows", stats.Rows, "imported", stats.Imported, "skipped", stats.Skipped)
	return stats, nil
}

var vehicleAliases = map[string][]string{
	"vehicle_id":         {"vehicle_id", "fin", "vin"},
	"plate":              {"plate", "kennzeichen"},
	"customer_number":    {"customer_number", "kunden_nr"},
	"make":               {"make", "marke"},
	"model":              {"model", "modell"},
	"first_registration": {"first_registration", "erstzulassung"},
	"updated_at":         {"updated_at", "letzte_aktualisierung"},
}

var vehiclePositional = []string{"vehicle_id", "plate", "customer_number", "make", "model", "first_registration", "updated_at"}

// ImportVehiclesFile imports a vehicle source file.
func (v *VehicleIndex) ImportVehiclesFile(ctx context.Context, path, charset string) (ImportStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return ImportStats{}, err
	}
	defer f.Close()
	return v.ImportVehicles(ctx, f, charset)
}

// ImportVehicles registers every vehicle. An identifier listed for several customers is kept
// with all its bindings so lookups report it as ambiguous instead of picking one.
func (v *VehicleIndex) ImportVehicles(ctx context.Context, rd io.Reader, charset string) (ImportStats, error) {
	records, err := readRecords(rd, charset)
	if err != nil {
		return ImportStats{}, err
	}
	idx, rows := columns(records, vehicleAliases, vehiclePositional, func(h []string) bool {
		if len(h) == 0 {
			return false
		}
		first := strings.ToLower(strings.TrimSpace(h[0]))
		for _, alias := range vehicleAliases["vehicle_id"] {
			if first == alias {
				return true
			}
		}
		return false
	})

	var stats ImportStats
	order := []string{}
	byID := map[string][]entity.VehicleRecord{}
	for _, rec := range rows {
		stats.Rows++
		id, _ := field(rec, idx, "vehicle_id")
		customer, _ := field(rec, idx, "customer_number")
		id = NormalizeID(id)
		if id == "" || customer == "" {
			stats.Skipped++
			continue
		}
		vr := entity.VehicleRecord{VehicleID: id, CustomerNumber: customer}
		vr.Plate, _ = field(rec, idx, "plate")
		vr.Make, _ = field(rec, idx, "make")
		vr.Model, _ = field(rec, idx, "model")
		vr.FirstRegistration, _ = field(rec, idx, "first_registration")
		if ts, ok := field(rec, idx, "updated_at"); ok && ts != "" {
			vr.UpdatedAt = parseSourceTime(ts)
		}
		if _, seen := byID[id]; !seen {
			order = append(order, id)
		}
		byID[id] = append(byID[id], vr)
	}

	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		recs := byID[id]
		last := recs[len(recs)-1]
		if err := v.Register(ctx, last); err != nil {
			return stats, fmt.Errorf("import vehicle %s: %w", id, err)
		}
		stats.Imported++

		distinct := map[string]entity.VehicleRecord{last.CustomerNumber: last}
		for _, r := range recs {
			if _, ok := distinct[r.CustomerNumber]; !ok {
				distinct[r.CustomerNumber] = r
				if err := v.appendRecord(ctx, r); err != nil {
					return stats, fmt.Errorf("import vehicle %s: %w", id, err)
				}
			}
		}
		if len(distinct) > 1 {
			stats.Conflicts++
			v.logger.Warn("vehicle listed for several customers", "vehicle_id", id, "customers", len(distinct))
		}
	}
	v.logger.Info("vehicles imported", "rows", stats.Rows, "imported", stats.Imported, "skipped", stats.Skipped, "conflicts", stats.Conflicts)
	return stats, nil
}

func parseSourceTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02", "02.01.2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
