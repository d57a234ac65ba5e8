// Package signature implements the deterministic first stage of the
// classification pipeline: an ordered catalog of attack signatures evaluated
// against a normalized request.
//
// Design principles:
//   - COMPILE ONCE: every pattern is compiled and validated at catalog load,
//     never per-request; a malformed rule is a fatal configuration error
//   - ORDERED: rules are evaluated in declaration order and the first match
//     wins, so more specific categories belong earlier in the catalog
//   - BOUNDED: Go's regexp is RE2 (linear-time, no backtracking blowup) and
//     each rule evaluation is additionally checked against a time budget
package signature

import (
	"github.com/bastionsec/bastion/pkg/request"
)

// Category identifies an attack class a rule detects.
type Category string

const (
	CategorySQLI           Category = "sqli"
	CategoryXSS            Category = "xss"
	CategoryCMDI           Category = "cmdi"
	CategoryPathTraversal  Category = "path_traversal"
	CategoryParamTampering Category = "param_tampering"
)

// KnownCategory reports whether c is a recognized attack category.
func KnownCategory(c Category) bool {
	switch c {
	case CategorySQLI, CategoryXSS, CategoryCMDI, CategoryPathTraversal, CategoryParamTampering:
		return true
	}
	return false
}

// Rule is the declarative form of a signature, as it appears in a catalog
// file. Exactly one of Pattern and MaxParamLength must be set: Pattern rules
// regex-match their selected fields, MaxParamLength rules flag any decoded
// parameter value longer than the limit (parameter tampering).
type Rule struct {
	ID             string          `yaml:"id"`
	Category       Category        `yaml:"category"`
	Pattern        string          `yaml:"pattern,omitempty"`
	Fields         []request.Field `yaml:"fields,omitempty"`
	MaxParamLength int             `yaml:"max_param_length,omitempty"`
}

// Match reports which rule fired for a request.
type Match struct {
	RuleID   string
	Category Category
}
