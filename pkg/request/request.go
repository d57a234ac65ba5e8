// Package request defines the inbound request record and its normalized,
// inspectable form. Normalization is total: malformed or missing input maps
// to empty values, never to an error, so the classification pipeline always
// has something well-formed to work with.
package request

// Field selects a section of a normalized request for signature matching.
type Field string

const (
	FieldPath    Field = "path"
	FieldQuery   Field = "query"
	FieldBody    Field = "body"
	FieldCookies Field = "cookies"
	FieldHeaders Field = "headers"
)

// KnownField reports whether f is a recognized field selector.
// Used by catalog validation to reject typos before serving traffic.
func KnownField(f Field) bool {
	switch f {
	case FieldPath, FieldQuery, FieldBody, FieldCookies, FieldHeaders:
		return true
	}
	return false
}

// Raw is the request record handed over by the traffic-capture layer.
// Target carries the request target as seen on the wire (path plus optional
// query string). Headers and Cookies may be nil.
type Raw struct {
	Method  string            `json:"method"`
	Target  string            `json:"target"`
	Body    string            `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Cookies map[string]string `json:"cookies,omitempty"`
	Origin  string            `json:"origin,omitempty"`
	Host    string            `json:"host,omitempty"`
}

// Normalized is the canonical, cleaned view of a single request. It is built
// once per classification call, read by the signature engine and the fallback
// classifier, and discarded with the verdict. Treat it as immutable.
type Normalized struct {
	Method  string
	Path    string
	Query   string // cleaned raw query string, "" if none
	Body    string
	Cookies map[string]string
	Headers map[string]string // allow-listed headers, lower-cased names

	// Params holds the decoded query and body parameter values, used by
	// structural rules (oversized parameter detection).
	Params map[string][]string

	// Origin and Host carry through untouched for the decision log.
	Origin string
	Host   string
}

// Select returns the texts a rule should match for the given field selector.
// Empty values are filtered out so an empty field can never satisfy a rule.
func (n *Normalized) Select(f Field) []string {
	switch f {
	case FieldPath:
		if n.Path == "" {
			return nil
		}
		return []string{n.Path}
	case FieldQuery:
		if n.Query == "" {
			return nil
		}
		return []string{n.Query}
	case FieldBody:
		if n.Body == "" {
			return nil
		}
		return []string{n.Body}
	case FieldCookies:
		return nonEmptyValues(n.Cookies)
	case FieldHeaders:
		return nonEmptyValues(n.Headers)
	}
	return nil
}

func nonEmptyValues(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for _, v := range m {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
