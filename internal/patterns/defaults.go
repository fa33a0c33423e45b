package patterns

import "github.com/joseph-ayodele/werkstatt-archive/constants"

// Built-in set names.
const (
	SetStandard    = "standard"
	SetAlternative = "alternative"
)

var standardPatterns = map[string]string{
	CustomerNumber: `(?i:Kunden[- ]?(?:Nr\.?|nummer)|Kd\.?[- ]?Nr\.?|Kunde)[:\s]*(?P<value>\d{5,6})\b`,
	OrderNumber:    `(?i:Auftrags?[- ]?(?:Nr\.?|nummer)|Auftrag)[:\s]*(?P<value>\d{5,7})\b`,
	Date:           `\b(?P<value>\d{1,2}[./]\d{1,2}[./](?:\d{4}|\d{2}))\b`,
	CustomerName:   `(?:(?i:Kunde|Name|Auftraggeber)[ \t]*:[ \t]*|(?:Herrn?|Frau|Firma)[ \t]+)(?P<value>[A-ZÄÖÜ][a-zäöüß]+(?:[ \t]+[A-ZÄÖÜ][a-zäöüß]+)*)`,
	VehicleID:      `\b(?P<value>[A-HJ-NPR-Z0-9]{17,19})\b`,
	Plate:          `(?i:Kennzeichen|Kennz\.)[:\s]*(?P<value>[A-ZÄÖÜ]{1,3}[- ][A-Z]{1,2}[- ]?\d{1,4}[EH]?)\b`,
	PostalCode:     `\b(?P<value>\d{5})[ \t]+[A-ZÄÖÜ][a-zäöüß]+`,
	Street:         `(?P<value>[A-ZÄÖÜ][a-zäöüß-]*(?:straße|strasse|str\.|weg|platz|allee|gasse|ring)[ \t]+\d+[a-z]?)`,

	constants.PatternTypeInvoice:    `(?i)rechnung`,
	constants.PatternTypeEstimate:   `(?i:kostenvoranschlag)|\bKVA\b`,
	constants.PatternTypeOrder:      `(?i)\bauftrag\b|auftragsbest`,
	constants.PatternTypeInspection: `\bHU\b|(?i:hauptuntersuchung)`,
	constants.PatternTypeWarranty:   `(?i)garantie|gewährleistung`,
}

// alternative differs from standard for shops whose forms use short labels and delivery notes.
var alternativeOverrides = map[string]string{
	CustomerNumber: `(?i:Kd\.?[- ]?Nr\.?|Kunden[- ]?(?:Nr\.?|nummer)|Kunde)[:\s]*(?P<value>\d{4,6})\b`,
	OrderNumber:    `(?i:Werkstatt[- ]?Auftrag|Auftrags?[- ]?(?:Nr\.?|nummer)|Auftrag|Lieferschein[- ]?Nr\.?)[:\s]*(?P<value>\d{5,8})\b`,

	constants.PatternTypeOrder:      `(?i)\bauftrag\b|auftragsbest|lieferschein`,
	constants.PatternTypeInspection: `\bHU\b|\bAU\b|TÜV|(?i:hauptuntersuchung)`,
}

// Default returns the built-in standard set.
func Default() Set {
	return Set{Name: SetStandard, Patterns: copyMap(standardPatterns)}
}

// Builtin returns every built-in set keyed by name.
func Builtin() map[string]Set {
	alt := Default().Clone()
	alt.Name = SetAlternative
	for k, v := range alternativeOverrides {
		alt.Patterns[k] = v
	}
	return map[string]Set{
		SetStandard:    Default(),
		SetAlternative: alt,
	}
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
