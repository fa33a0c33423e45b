package constants

// Document type labels as they appear in filenames and the index.
const (
	TypeInvoice    = "Rechnung"
	TypeEstimate   = "KVA"
	TypeOrder      = "Auftrag"
	TypeInspection = "HU"
	TypeWarranty   = "Garantie"

	// TypeFallback is used when no keyword category matched.
	TypeFallback = "Dokument"
)

// Pattern names for the document-type keyword categories, in classification order.
const (
	PatternTypeInvoice    = "type_invoice"
	PatternTypeEstimate   = "type_estimate"
	PatternTypeOrder      = "type_order"
	PatternTypeInspection = "type_inspection"
	PatternTypeWarranty   = "type_warranty"
)

// TypeCategory pairs a keyword pattern name with the label it yields.
type TypeCategory struct {
	Pattern string
	Label   string
}

// TypeCategories is the ordered keyword-category list. First match wins.
var TypeCategories = []TypeCategory{
	{PatternTypeInvoice, TypeInvoice},
	{PatternTypeEstimate, TypeEstimate},
	{PatternTypeOrder, TypeOrder},
	{PatternTypeInspection, TypeInspection},
	{PatternTypeWarranty, TypeWarranty},
}

// VirtualCustomerPrefix marks customer numbers allocated by the registry.
const VirtualCustomerPrefix = "VK"
