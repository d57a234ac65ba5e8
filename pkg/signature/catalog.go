package signature

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/bastionsec/bastion/pkg/request"
)

// compiledRule is a validated rule ready for evaluation.
type compiledRule struct {
	Rule
	re *regexp.Regexp // nil for MaxParamLength rules
}

// Catalog is an immutable, ordered set of compiled rules. Build one at
// startup (or on reload) and share it read-only across evaluations; never
// mutate it in place.
type Catalog struct {
	rules []*compiledRule
}

// NewCatalog compiles and validates an ordered rule list. Any invalid entry
// makes the whole catalog invalid - a rule silently dropped is coverage
// silently lost.
func NewCatalog(rules []Rule) (*Catalog, error) {
	if len(rules) == 0 {
		return nil, fmt.Errorf("catalog: no rules defined")
	}

	seen := make(map[string]bool, len(rules))
	compiled := make([]*compiledRule, 0, len(rules))
	for i, r := range rules {
		if r.ID == "" {
			return nil, fmt.Errorf("catalog: rule %d: missing id", i)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("catalog: rule %q: duplicate id", r.ID)
		}
		seen[r.ID] = true

		if !KnownCategory(r.Category) {
			return nil, fmt.Errorf("catalog: rule %q: unknown category %q", r.ID, r.Category)
		}

		cr := &compiledRule{Rule: r}
		switch {
		case r.Pattern != "" && r.MaxParamLength > 0:
			return nil, fmt.Errorf("catalog: rule %q: pattern and max_param_length are mutually exclusive", r.ID)
		case r.Pattern != "":
			if len(r.Fields) == 0 {
				return nil, fmt.Errorf("catalog: rule %q: pattern rule declares no fields", r.ID)
			}
			for _, f := range r.Fields {
				if !request.KnownField(f) {
					return nil, fmt.Errorf("catalog: rule %q: unknown field selector %q", r.ID, f)
				}
			}
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("catalog: rule %q: %w", r.ID, err)
			}
			cr.re = re
		case r.MaxParamLength > 0:
			// Structural rule, nothing to compile
		default:
			return nil, fmt.Errorf("catalog: rule %q: neither pattern nor max_param_length set", r.ID)
		}

		compiled = append(compiled, cr)
	}

	return &Catalog{rules: compiled}, nil
}

// catalogFile is the on-disk YAML shape.
type catalogFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadCatalog reads and compiles a YAML rule catalog. Declaration order in
// the file is evaluation order.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	cat, err := NewCatalog(f.Rules)
	if err != nil {
		return nil, fmt.Errorf("catalog: %s: %w", path, err)
	}
	return cat, nil
}

// Len returns the number of rules in the catalog.
func (c *Catalog) Len() int {
	return len(c.rules)
}

// Rules returns a copy of the declarative rule list, in evaluation order.
func (c *Catalog) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	for i, r := range c.rules {
		out[i] = r.Rule
	}
	return out
}

// matches reports whether the rule fires for the request. Empty field values
// are filtered during selection, so they can never satisfy a pattern.
func (r *compiledRule) matches(req *request.Normalized) bool {
	if r.MaxParamLength > 0 {
		for _, values := range req.Params {
			for _, v := range values {
				if len(v) > r.MaxParamLength {
					return true
				}
			}
		}
		return false
	}
	for _, f := range r.Fields {
		for _, text := range req.Select(f) {
			if r.re.MatchString(text) {
				return true
			}
		}
	}
	return false
}
