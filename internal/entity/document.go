package entity

import (
	"time"

	"github.com/joseph-ayodele/werkstatt-archive/constants"
)

// Document represents a filed document record for data transfer between layers.
type Document struct {
	ID               int64                    `json:"id"`
	SourceFilename   string                   `json:"source_filename"`
	OriginalPath     string                   `json:"original_path"`
	TargetPath       string                   `json:"target_path"`
	CustomerNumber   string                   `json:"customer_number,omitempty"`
	CustomerName     string                   `json:"customer_name,omitempty"`
	OrderNumber      string                   `json:"order_number,omitempty"`
	DocumentDate     *time.Time               `json:"document_date,omitempty"`
	DocumentType     string                   `json:"document_type"`
	VehicleID        string                   `json:"vehicle_id,omitempty"`
	Plate            string                   `json:"plate,omitempty"`
	Year             int                      `json:"year,omitempty"`
	PageCount        int                      `json:"page_count,omitempty"`
	Confidence       float64                  `json:"confidence"`
	Status           constants.DocumentStatus `json:"status"`
	ResolutionReason *constants.MatchReason   `json:"resolution_reason,omitempty"`
	ContentHash      string                   `json:"content_hash"`
	CreatedAt        time.Time                `json:"created_at"`
	UpdatedAt        time.Time                `json:"updated_at"`
}

// Fields rebuilds the field map a document was routed with.
func (d Document) Fields() FieldMap {
	var f FieldMap
	setStr := func(o *Opt[string], v string) {
		if v != "" {
			*o = Some(v)
		}
	}
	setStr(&f.CustomerNumber, d.CustomerNumber)
	setStr(&f.CustomerName, d.CustomerName)
	setStr(&f.OrderNumber, d.OrderNumber)
	setStr(&f.VehicleID, d.VehicleID)
	setStr(&f.Plate, d.Plate)
	if d.DocumentType != "" && d.DocumentType != constants.TypeFallback {
		f.DocumentType = Some(d.DocumentType)
	}
	if d.DocumentDate != nil {
		f.DocumentDate = Some(*d.DocumentDate)
	}
	if d.Year > 0 {
		f.Year = Some(d.Year)
	}
	if d.PageCount > 0 {
		f.PageCount = Some(d.PageCount)
	}
	return f
}

// PendingLegacyEntry is a legacy document the resolver could not bind to exactly one customer.
type PendingLegacyEntry struct {
	ID             int64                   `json:"id"`
	SourceFilename string                  `json:"source_filename"`
	OriginalPath   string                  `json:"original_path"`
	FilePath       string                  `json:"file_path"`
	CustomerName   string                  `json:"customer_name,omitempty"`
	OrderNumber    string                  `json:"order_number,omitempty"`
	DocumentDate   *time.Time              `json:"document_date,omitempty"`
	DocumentType   string                  `json:"document_type"`
	VehicleID      string                  `json:"vehicle_id,omitempty"`
	Plate          string                  `json:"plate,omitempty"`
	PostalCode     string                  `json:"postal_code,omitempty"`
	Street         string                  `json:"street,omitempty"`
	Year           int                     `json:"year,omitempty"`
	PageCount      int                     `json:"page_count,omitempty"`
	Confidence     float64                 `json:"confidence"`
	MatchReason    constants.MatchReason   `json:"match_reason"`
	Status         constants.PendingStatus `json:"status"`
	ContentHash    string                  `json:"content_hash"`
	CreatedAt      time.Time               `json:"created_at"`
}

// Fields rebuilds the extracted field map of the entry.
func (p PendingLegacyEntry) Fields() FieldMap {
	d := Document{
		CustomerName: p.CustomerName,
		OrderNumber:  p.OrderNumber,
		DocumentDate: p.DocumentDate,
		DocumentType: p.DocumentType,
		VehicleID:    p.VehicleID,
		Plate:        p.Plate,
		Year:         p.Year,
		PageCount:    p.PageCount,
	}
	f := d.Fields()
	if p.PostalCode != "" {
		f.PostalCode = Some(p.PostalCode)
	}
	if p.Street != "" {
		f.Street = Some(p.Street)
	}
	return f
}

// DocumentFromFields fills the extracted-field columns of a new document record.
func DocumentFromFields(f FieldMap) Document {
	d := Document{
		CustomerNumber: f.CustomerNumber.Value,
		CustomerName:   f.CustomerName.Value,
		OrderNumber:    f.OrderNumber.Value,
		DocumentType:   f.TypeLabel(),
		VehicleID:      f.VehicleID.Value,
		Plate:          f.Plate.Value,
		Year:           f.Year.Value,
		PageCount:      f.PageCount.Value,
	}
	if t, ok := f.DocumentDate.Get(); ok {
		d.DocumentDate = &t
	}
	return d
}

// PendingFromFields fills the extracted-field columns of a new pending entry.
func PendingFromFields(f FieldMap) PendingLegacyEntry {
	d := DocumentFromFields(f)
	return PendingLegacyEntry{
		CustomerName: d.CustomerName,
		OrderNumber:  d.OrderNumber,
		DocumentDate: d.DocumentDate,
		DocumentType: d.DocumentType,
		VehicleID:    d.VehicleID,
		Plate:        d.Plate,
		PostalCode:   f.PostalCode.Value,
		Street:       f.Street.Value,
		Year:         d.Year,
		PageCount:    d.PageCount,
	}
}
