package tfconfig

import "strings"

// ResourceRecord is one declared resource block extracted from source text.
// Records are created fresh on every parse and never mutated; a fix
// produces new source text which is reparsed.
type ResourceRecord struct {
	// Type is the provider-qualified resource kind, e.g. "aws_s3_bucket".
	Type string `json:"type"`

	// Name is the local identifier within the configuration.
	Name string `json:"name"`

	// FullName is "type.name", the stable identity used for violation
	// diffing and persistence. Unique within one parsed configuration.
	FullName string `json:"full_name"`

	// Properties maps attribute names to decoded scalar values. Lists of
	// scalars decode to []interface{} and single-level nested blocks to
	// map[string]interface{}. Only literal values are decoded; attributes
	// that reference variables or functions are omitted.
	Properties map[string]interface{} `json:"properties"`

	// RawText is the exact source substring of the block, including
	// nested blocks, so checks can string-match inside it.
	RawText string `json:"raw_text"`

	// StartLine and EndLine are 1-based source line numbers.
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`
}

// Config is the result of parsing one configuration text.
type Config struct {
	// Resources holds the recognized resource blocks in source order.
	Resources []ResourceRecord `json:"resources"`
}

// ByType returns all resources with the given type, in source order.
func (c *Config) ByType(resourceType string) []ResourceRecord {
	var out []ResourceRecord
	for _, r := range c.Resources {
		if r.Type == resourceType {
			out = append(out, r)
		}
	}
	return out
}

// Source reassembles the raw text of all recognized blocks. Reparsing the
// result yields the same FullName set as the original parse.
func (c *Config) Source() string {
	parts := make([]string, 0, len(c.Resources))
	for _, r := range c.Resources {
		parts = append(parts, r.RawText)
	}
	return strings.Join(parts, "\n\n")
}

// StringProperty returns the named property when it is a string.
// A property of any other type resolves to absent; there is no coercion.
func (r ResourceRecord) StringProperty(name string) (string, bool) {
	v, ok := r.Properties[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// BoolProperty returns the named property when it is a bool, without
// coercing strings like "true" or numbers.
func (r ResourceRecord) BoolProperty(name string) (bool, bool) {
	v, ok := r.Properties[name]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// NumberProperty returns the named property when it is numeric.
func (r ResourceRecord) NumberProperty(name string) (float64, bool) {
	v, ok := r.Properties[name]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// NestedProperty returns the decoded attribute map of the first nested
// block with the given type, if any.
func (r ResourceRecord) NestedProperty(name string) (map[string]interface{}, bool) {
	v, ok := r.Properties[name]
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]interface{})
	return m, ok
}
