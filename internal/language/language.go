// Package language holds the ordered registry of target languages a run
// translates into.
package language

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// SourceCode is the language every unit is authored in.
const SourceCode = "en"

// Target is one registry entry. Code may carry a register suffix
// ("ja_formal", "ru_casual") that is meaningful to prompts only.
type Target struct {
	Code string `yaml:"code" mapstructure:"code"`
	Name string `yaml:"name" mapstructure:"name"`
}

// IsSource reports whether translating into t is a no-op.
func (t Target) IsSource() bool {
	return t.Code == SourceCode
}

// Tag maps the registry code onto a BCP-47 tag: "zh_cn" becomes zh-CN,
// register suffixes are dropped ("ja_casual" becomes ja).
func (t Target) Tag() (language.Tag, error) {
	parts := strings.Split(strings.ToLower(t.Code), "_")
	if tag, err := language.Parse(parts[0]); err == nil {
		if len(parts) > 1 {
			if region, err := language.ParseRegion(parts[1]); err == nil {
				return language.Compose(tag, region)
			}
		}
		return tag, nil
	}
	return language.Und, fmt.Errorf("language %q: no BCP-47 tag", t.Code)
}

func (t Target) String() string {
	return fmt.Sprintf("%s (%s)", t.Name, t.Code)
}

// Source is the source-language target.
var Source = Target{Code: SourceCode, Name: "English"}

// Registry is an ordered, duplicate-free list of targets.
type Registry struct {
	targets []Target
	index   map[string]int
}

// NewRegistry builds a registry, rejecting empty and duplicate codes.
func NewRegistry(targets []Target) (*Registry, error) {
	r := &Registry{index: make(map[string]int, len(targets))}
	for _, t := range targets {
		t.Code = strings.TrimSpace(t.Code)
		if t.Code == "" {
			return nil, fmt.Errorf("language registry: empty code")
		}
		if _, dup := r.index[t.Code]; dup {
			return nil, fmt.Errorf("language registry: duplicate code %q", t.Code)
		}
		if t.Name == "" {
			t.Name = t.Code
		}
		r.index[t.Code] = len(r.targets)
		r.targets = append(r.targets, t)
	}
	return r, nil
}

// Default returns the built-in registry.
func Default() *Registry {
	r, _ := NewRegistry(defaultTargets)
	return r
}

// All returns the targets in registry order.
func (r *Registry) All() []Target {
	return append([]Target(nil), r.targets...)
}

func (r *Registry) Len() int { return len(r.targets) }

// Lookup finds a target by code.
func (r *Registry) Lookup(code string) (Target, bool) {
	i, ok := r.index[code]
	if !ok {
		return Target{}, false
	}
	return r.targets[i], true
}

// Filter returns a registry restricted to codes, keeping registry order.
// An empty codes list returns r unchanged.
func (r *Registry) Filter(codes []string) (*Registry, error) {
	if len(codes) == 0 {
		return r, nil
	}
	want := make(map[string]bool, len(codes))
	for _, c := range codes {
		if _, ok := r.index[c]; !ok {
			return nil, fmt.Errorf("unknown language code %q", c)
		}
		want[c] = true
	}
	var out []Target
	for _, t := range r.targets {
		if want[t.Code] {
			out = append(out, t)
		}
	}
	return NewRegistry(out)
}

// LoadFile reads a registry from a YAML mapping of code to display name.
// Mapping order is the registry order.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read language registry: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML mapping of code to display name.
func Parse(data []byte) (*Registry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse language registry: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("language registry is empty")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("language registry must be a mapping of code to name")
	}
	targets := make([]Target, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		targets = append(targets, Target{Code: root.Content[i].Value, Name: root.Content[i+1].Value})
	}
	return NewRegistry(targets)
}

var defaultTargets = []Target{
	{"ar", "Arabic (MSA)"},
	{"id_casual", "Indonesian (Casual)"},
	{"id_formal", "Indonesian (Formal)"},
	{"jv_krama", "Javanese (Krama - Polite)"},
	{"jv_ngoko", "Javanese (Ngoko - Casual)"},
	{"su_loma", "Sundanese"},
	{"tl", "Tagalog"},
	{"bn", "Bengali"},
	{"cs", "Czech"},
	{"en", "English"},
	{"es", "Spanish"},
	{"fr", "French"},
	{"hi", "Hindi"},
	{"it", "Italian"},
	{"mr", "Marathi"},
	{"ru_casual", "Russian (Casual)"},
	{"ru_formal", "Russian (Formal)"},
	{"sc", "Sardinian"},
	{"si_formal_spoken", "Sinhala"},
	{"ja_casual", "Japanese (Casual)"},
	{"ja_formal", "Japanese (Formal)"},
	{"ko_casual", "Korean (Casual)"},
	{"ko_formal", "Korean (Formal)"},
	{"th", "Thai"},
	{"yo", "Yoruba"},
	{"nan", "Hokkien (Written)"},
	{"nan_spoken", "Hokkien (Spoken)"},
	{"yue", "Cantonese"},
	{"zh_cn", "Chinese (Mandarin)"},
	{"az", "Azerbaijani"},
}
