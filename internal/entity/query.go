package entity

import "github.com/joseph-ayodele/werkstatt-archive/constants"

// Criteria filters a document search. Zero values are ignored; set filters combine with AND.
type Criteria struct {
	CustomerNumber string
	Name           string // substring of the customer name, case-insensitive
	OrderNumber    string
	Filename       string // substring of the source or target filename
	DocumentType   string
	Year           int
	VehicleID      string // last-8 window or full containment, uppercased
	Plate          string
	Status         constants.DocumentStatus
	LegacyOnly     bool
}

// Stats summarizes the document index.
type Stats struct {
	Total           int            `json:"total"`
	ByStatus        map[string]int `json:"by_status"`
	ByType          map[string]int `json:"by_type"`
	ByYear          map[int]int    `json:"by_year"`
	LegacyCount     int            `json:"legacy_count"`
	OpenPending     int            `json:"open_pending"`
	UniqueCustomers int            `json:"unique_customers"`
	UniqueVehicles  int            `json:"unique_vehicles"`
	AvgConfidence   float64        `json:"avg_confidence"`
}
