package request

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// maxDecodeRounds bounds repeated percent-decoding. Attackers double- or
// triple-encode payloads to slip past matchers; five rounds is enough to
// unwrap any realistic nesting without looping on pathological input.
const maxDecodeRounds = 5

// allowedHeaders is the fixed set of header names that enter matching scope.
// Everything else is dropped during normalization so unrelated headers never
// reach the signature engine or the model.
var allowedHeaders = map[string]bool{
	"user-agent":      true,
	"referer":         true,
	"content-type":    true,
	"accept":          true,
	"accept-encoding": true,
	"accept-language": true,
	"x-forwarded-for": true,
}

// Clean canonicalizes a piece of request text for matching: repeated
// percent-decoding, Unicode width folding and NFKC normalization, whitespace
// collapse, lower-casing. Total function - invalid encodings are left as-is.
func Clean(s string) string {
	if s == "" {
		return ""
	}
	prev := s
	for i := 0; i < maxDecodeRounds; i++ {
		decoded, err := url.QueryUnescape(prev)
		if err != nil || decoded == prev {
			break
		}
		prev = decoded
	}
	t := width.Fold.String(prev)
	t = norm.NFKC.String(t)
	t = strings.Join(strings.Fields(t), " ")
	return strings.ToLower(t)
}

// Normalize builds the canonical view of a raw request. It never fails:
// missing fields become empty strings or empty maps.
func Normalize(raw *Raw) *Normalized {
	if raw == nil {
		raw = &Raw{}
	}

	path, query := splitTarget(raw.Target)

	n := &Normalized{
		Method:  strings.ToUpper(strings.TrimSpace(raw.Method)),
		Path:    Clean(path),
		Query:   Clean(query),
		Body:    Clean(raw.Body),
		Cookies: map[string]string{},
		Headers: map[string]string{},
		Params:  map[string][]string{},
		Origin:  raw.Origin,
		Host:    raw.Host,
	}

	for name, value := range raw.Headers {
		lname := strings.ToLower(strings.TrimSpace(name))
		if lname == "cookie" && len(raw.Cookies) == 0 {
			parseCookieHeader(value, n.Cookies)
			continue
		}
		if allowedHeaders[lname] {
			n.Headers[lname] = Clean(value)
		}
	}
	for name, value := range raw.Cookies {
		n.Cookies[name] = Clean(value)
	}

	collectParams(n.Query, n.Params)
	collectBodyParams(n.Body, n.Params)

	return n
}

// splitTarget separates the request target into path and raw query string.
func splitTarget(target string) (path, query string) {
	if i := strings.IndexByte(target, '?'); i >= 0 {
		return target[:i], target[i+1:]
	}
	return target, ""
}

func parseCookieHeader(header string, into map[string]string) {
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		if name != "" {
			into[name] = Clean(value)
		}
	}
}

// collectParams merges form-encoded parameters into the params map.
// Parse errors yield the partial result; nothing is reported.
func collectParams(encoded string, into map[string][]string) {
	if encoded == "" {
		return
	}
	values, _ := url.ParseQuery(encoded)
	for k, vs := range values {
		into[k] = append(into[k], vs...)
	}
}

// collectBodyParams extracts parameters from a request body: form encoding
// first, falling back to a flat JSON object.
func collectBodyParams(body string, into map[string][]string) {
	if body == "" {
		return
	}
	if strings.ContainsRune(body, '=') && !strings.HasPrefix(strings.TrimSpace(body), "{") {
		collectParams(body, into)
		return
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(body), &obj); err != nil {
		return
	}
	for k, v := range obj {
		switch vv := v.(type) {
		case []any:
			for _, e := range vv {
				into[k] = append(into[k], fmt.Sprint(e))
			}
		default:
			into[k] = append(into[k], fmt.Sprint(v))
		}
	}
}
