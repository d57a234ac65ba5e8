package signature

import "github.com/bastionsec/bastion/pkg/request"

// Field selector shorthands for the default catalog.
var (
	textFields  = []request.Field{request.FieldPath, request.FieldQuery, request.FieldBody, request.FieldCookies, request.FieldHeaders}
	inputFields = []request.Field{request.FieldPath, request.FieldQuery, request.FieldBody}
)

// DefaultRules returns the built-in signature catalog, a deliberately small
// set of high-confidence patterns in the spirit of the OWASP CRS. Order
// matters: first match wins, so the higher-confidence categories come first.
// Command injection patterns are scoped to path/query/body because their
// shell-chain heuristics false-positive on ordinary header values such as
// "en-US,en;q=0.9".
func DefaultRules() []Rule {
	return []Rule{
		// SQL injection
		{ID: "sqli-union-select", Category: CategorySQLI, Fields: textFields,
			Pattern: `(?i)\bunion\b\s+select|\bselect\b.+\bfrom\b`},
		{ID: "sqli-ddl-dml", Category: CategorySQLI, Fields: textFields,
			Pattern: `(?i)\bdrop\b\s+table|\binsert\b\s+into|\bupdate\b\s+\w+\s+set`},
		{ID: "sqli-tautology", Category: CategorySQLI, Fields: textFields,
			Pattern: `(?i)'\s*or\s*'\d+'\s*=\s*'\d+|'\s*or\s*1\s*=\s*1|\bor\b\s+1\s*=\s*1`},
		{ID: "sqli-comment", Category: CategorySQLI, Fields: inputFields,
			Pattern: `;\s*--|\s--\s`},
		{ID: "sqli-probe-functions", Category: CategorySQLI, Fields: textFields,
			Pattern: `(?i)\b(?:benchmark|sleep|information_schema)\b`},

		// Cross-site scripting
		{ID: "xss-script-tag", Category: CategoryXSS, Fields: textFields,
			Pattern: `(?i)<\s*script`},
		{ID: "xss-img-onerror", Category: CategoryXSS, Fields: textFields,
			Pattern: `(?i)<\s*img\b[^>]*\bonerror\b`},
		{ID: "xss-javascript-uri", Category: CategoryXSS, Fields: textFields,
			Pattern: `(?i)javascript\s*:`},
		{ID: "xss-event-handler", Category: CategoryXSS, Fields: textFields,
			Pattern: `(?i)\bon(?:load|error|click|mouseover)\s*=`},
		{ID: "xss-alert-call", Category: CategoryXSS, Fields: inputFields,
			Pattern: `(?i)\balert\s*\(`},

		// Path traversal
		{ID: "traversal-dotdot", Category: CategoryPathTraversal, Fields: textFields,
			Pattern: `\.\.\s*/|\.\.\\`},
		{ID: "traversal-etc-passwd", Category: CategoryPathTraversal, Fields: textFields,
			Pattern: `(?i)[/\\]etc[/\\]passwd`},
		{ID: "traversal-known-files", Category: CategoryPathTraversal, Fields: textFields,
			Pattern: `(?i)web-inf|boot\.ini`},

		// Command injection
		{ID: "cmdi-shell-chain", Category: CategoryCMDI, Fields: inputFields,
			Pattern: `(?:;|&&|\|\|?)\s*\w+\s`},
		{ID: "cmdi-backticks", Category: CategoryCMDI, Fields: inputFields,
			Pattern: "`[^`]+`"},
		{ID: "cmdi-binaries", Category: CategoryCMDI, Fields: inputFields,
			Pattern: `(?i)\b(?:cat|rm|wget|curl|whoami|powershell|cmd\.exe|/bin/sh|/bin/bash)\b`},

		// Parameter tampering (structural, checked against decoded params)
		{ID: "param-oversized", Category: CategoryParamTampering, MaxParamLength: 100},
	}
}

// DefaultCatalog compiles the built-in rule set. The default rules are
// covered by tests, so a compile failure here is a programming error.
func DefaultCatalog() *Catalog {
	cat, err := NewCatalog(DefaultRules())
	if err != nil {
		panic(err)
	}
	return cat
}
