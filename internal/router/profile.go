package router

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/werkstatt-archive/internal/common"
)

// Placeholders usable in folder and filename templates.
const (
	PhCustomerNumber = "customer_number"
	PhCustomerName   = "customer_name"
	PhYear           = "year"
	PhMonth          = "month"
	PhDay            = "day"
	PhDate           = "date"
	PhType           = "type"
	PhOrderNumber    = "order_number"
	PhPlate          = "plate"
	PhVehicleID      = "vehicle_id"
	PhPageCount      = "page_count"
)

// Placeholders is the template vocabulary.
var Placeholders = []string{
	PhCustomerNumber, PhCustomerName, PhYear, PhMonth, PhDay, PhDate,
	PhType, PhOrderNumber, PhPlate, PhVehicleID, PhPageCount,
}

// DefaultProfile is the profile that must always exist.
const DefaultProfile = "default"

// Profile is a folder/filename template pair. Filename templates carry no extension;
// the source file's extension is appended.
type Profile struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Folder      string `yaml:"folder" json:"folder"`
	Filename    string `yaml:"filename" json:"filename"`
}

// Builtin returns the shipped profiles keyed by name.
func Builtin() map[string]Profile {
	list := []Profile{
		{DefaultProfile, "customer number and name, then year", "{customer_number} - {customer_name}/{year}", "{order_number}_{type}"},
		{"chronological", "year, month, customer, type", "{year}/{month}/{customer_name}/{type}", "{date}_{type}_{order_number}"},
		{"by-type", "document type first", "{type}/{year}/{customer_name}", "{date}_{order_number}_{customer_number}"},
		{"by-order", "one folder per order", "{customer_name}/{order_number}", "{date}_{type}_{customer_number}"},
		{"compact", "customer and year only", "{customer_name}/{year}", "{date}_{type}_{order_number}"},
		{"detail", "deepest nesting", "{customer_name}/{year}/{month}/{type}/{order_number}", "{customer_number}_{date}_{type}"},
		{"legacy-compatible", "layout of the old archive", "Kunde/{customer_number} - {customer_name}/{year}", "{order_number}_{type}_{date}"},
	}
	out := make(map[string]Profile, len(list))
	for _, p := range list {
		out[p.Name] = p
	}
	return out
}

var (
	placeholderRe = regexp.MustCompile(`\{([^{}]*)\}`)
	unsafeChars   = `<>:"|?*`
)

// ValidateTemplate rejects unknown placeholders, unbalanced braces and unsafe characters.
func ValidateTemplate(template string, filename bool) error {
	if strings.TrimSpace(template) == "" {
		return fmt.Errorf("%w: empty template", common.ErrValidation)
	}
	var unknown []string
	for _, m := range placeholderRe.FindAllStringSubmatch(template, -1) {
		if !isPlaceholder(m[1]) {
			unknown = append(unknown, m[1])
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: unknown placeholders: %s", common.ErrValidation, strings.Join(unknown, ", "))
	}
	literal := placeholderRe.ReplaceAllString(template, "")
	if strings.ContainsAny(literal, "{}") {
		return fmt.Errorf("%w: unbalanced braces in %q", common.ErrValidation, template)
	}
	if strings.ContainsAny(literal, unsafeChars) {
		return fmt.Errorf("%w: unsafe characters in %q", common.ErrValidation, template)
	}
	if filename && strings.ContainsAny(literal, `/\`) {
		return fmt.Errorf("%w: filename template %q contains a path separator", common.ErrValidation, template)
	}
	if !filename && (strings.HasPrefix(strings.TrimSpace(template), "/") || strings.Contains(template, "..")) {
		return fmt.Errorf("%w: folder template %q must stay inside the archive", common.ErrValidation, template)
	}
	return nil
}

// Validate checks both templates of p.
func (p Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: profile without name", common.ErrValidation)
	}
	if err := ValidateTemplate(p.Folder, false); err != nil {
		return fmt.Errorf("profile %s folder: %w", p.Name, err)
	}
	if err := ValidateTemplate(p.Filename, true); err != nil {
		return fmt.Errorf("profile %s filename: %w", p.Name, err)
	}
	return nil
}

func isPlaceholder(name string) bool {
	for _, p := range Placeholders {
		if p == name {
			return true
		}
	}
	return false
}

type profileFile struct {
	Profiles []Profile `yaml:"profiles"`
}

func profileSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"profiles"},
		"properties": map[string]any{
			"profiles": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"name", "folder", "filename"},
					"properties": map[string]any{
						"name":        map[string]any{"type": "string", "minLength": 1},
						"description": map[string]any{"type": "string"},
						"folder":      map[string]any{"type": "string", "minLength": 1},
						"filename":    map[string]any{"type": "string", "minLength": 1},
					},
				},
			},
		},
	}
}

// LoadProfiles reads a YAML profile file. Profiles in the file are added to the
// built-in ones and replace built-ins of the same name.
//
//	profiles:
//	  - name: werkstatt
//	    folder: "{customer_name}/{year}"
//	    filename: "{date}_{type}"
func LoadProfiles(path string) (map[string]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile file: %w", err)
	}
	return ParseProfiles(data)
}

// ParseProfiles is LoadProfiles over bytes.
func ParseProfiles(data []byte) (map[string]Profile, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, common.NewAppError("PROFILE_ERROR", "parse profile file", err)
	}
	if err := common.ValidateValueAgainstSchema(profileSchema(), raw); err != nil {
		return nil, common.NewAppError("PROFILE_ERROR", "invalid profile file", err)
	}
	var f profileFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, common.NewAppError("PROFILE_ERROR", "decode profile file", err)
	}
	out := Builtin()
	for _, p := range f.Profiles {
		if err := p.Validate(); err != nil {
			return nil, common.NewAppError("PROFILE_ERROR", "invalid profile "+p.Name, err)
		}
		out[p.Name] = p
	}
	return out, nil
}

// Names returns profile names in sorted order.
func Names(profiles map[string]Profile) []string {
	out := make([]string, 0, len(profiles))
	for n := range profiles {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
