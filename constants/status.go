package constants

// DocumentStatus is the canonical status for rows in documents.
type DocumentStatus string

// Stable values (store these exact strings in DB).
const (
	StatusFiled         DocumentStatus = "filed"          // customer number present, score >= threshold
	StatusUnclear       DocumentStatus = "unclear"        // low score or unknown customer
	StatusLegacyFiled   DocumentStatus = "legacy_filed"   // resolved by the legacy resolver
	StatusLegacyUnclear DocumentStatus = "legacy_unclear" // resolved, but re-scored below threshold
)

// AllDocumentStatuses lists statuses in display order.
var AllDocumentStatuses = []DocumentStatus{StatusFiled, StatusUnclear, StatusLegacyFiled, StatusLegacyUnclear}

// Valid reports whether s is a known status.
func (s DocumentStatus) Valid() bool {
	for _, v := range AllDocumentStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsLegacy reports whether the document went through legacy resolution.
func (s DocumentStatus) IsLegacy() bool {
	return s == StatusLegacyFiled || s == StatusLegacyUnclear
}

// PendingStatus is the status of a pending legacy entry.
type PendingStatus string

const (
	PendingOpen     PendingStatus = "open"
	PendingResolved PendingStatus = "resolved"
)

// MatchReason records why the legacy resolver did or did not bind a customer.
type MatchReason string

const (
	ReasonNone                MatchReason = "none"
	ReasonUnclear             MatchReason = "unclear"
	ReasonMultipleFINMatches  MatchReason = "multiple_fin_matches"
	ReasonMultipleNameMatches MatchReason = "multiple_name_matches"
	ReasonNoDetails           MatchReason = "no_details"
)

// Valid reports whether r is a known reason.
func (r MatchReason) Valid() bool {
	switch r {
	case ReasonNone, ReasonUnclear, ReasonMultipleFINMatches, ReasonMultipleNameMatches, ReasonNoDetails:
		return true
	}
	return false
}
