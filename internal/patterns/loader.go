package patterns

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/werkstatt-archive/internal/common"
)

// File is the on-disk pattern configuration.
//
//	sets:
//	  - name: standard
//	    base: standard        # optional, fills patterns not listed
//	    patterns:
//	      customer_number: '(?i:Kunden-Nr\.?)[:\s]*(\d{5})'
type File struct {
	Sets []FileSet `yaml:"sets" json:"sets"`
}

// FileSet is one set in a pattern file.
type FileSet struct {
	Name     string            `yaml:"name" json:"name"`
	Base     string            `yaml:"base,omitempty" json:"base,omitempty"`
	Patterns map[string]string `yaml:"patterns" json:"patterns"`
}

func fileSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"sets"},
		"properties": map[string]any{
			"sets": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"name", "patterns"},
					"properties": map[string]any{
						"name": map[string]any{"type": "string", "minLength": 1},
						"base": map[string]any{"type": "string"},
						"patterns": map[string]any{
							"type":                 "object",
							"propertyNames":        map[string]any{"enum": Names},
							"additionalProperties": map[string]any{"type": "string", "minLength": 1},
						},
					},
				},
			},
		},
	}
}

// LoadFile reads a YAML pattern file, validates its shape, and compiles every set.
// A bad regular expression is reported as *PatternLoadError naming the pattern.
func LoadFile(path string) ([]Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pattern file: %w", err)
	}
	return Parse(data)
}

// Parse is LoadFile over bytes.
func Parse(data []byte) ([]Set, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, common.NewAppError("PATTERN_ERROR", "parse pattern file", fmt.Errorf("%w: %v", common.ErrPatternLoad, err))
	}
	if err := common.ValidateValueAgainstSchema(fileSchema(), raw); err != nil {
		return nil, common.NewAppError("PATTERN_ERROR", "invalid pattern file", fmt.Errorf("%w: %v", common.ErrPatternLoad, err))
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, common.NewAppError("PATTERN_ERROR", "decode pattern file", fmt.Errorf("%w: %v", common.ErrPatternLoad, err))
	}

	builtin := Builtin()
	out := make([]Set, 0, len(f.Sets))
	seen := map[string]bool{}
	for _, fs := range f.Sets {
		if seen[fs.Name] {
			return nil, common.NewAppError("PATTERN_ERROR", "duplicate set "+fs.Name, common.ErrPatternLoad)
		}
		seen[fs.Name] = true

		set := Set{Name: fs.Name, Patterns: map[string]string{}}
		baseName := fs.Base
		if baseName == "" {
			baseName = SetStandard
		}
		base, ok := builtin[baseName]
		if !ok {
			return nil, common.NewAppError("PATTERN_ERROR", fmt.Sprintf("set %q: unknown base %q", fs.Name, baseName), common.ErrPatternLoad)
		}
		for k, v := range base.Patterns {
			set.Patterns[k] = v
		}
		for k, v := range fs.Patterns {
			set.Patterns[k] = v
		}
		if _, err := Compile(set); err != nil {
			return nil, err
		}
		out = append(out, set)
	}
	return out, nil
}
