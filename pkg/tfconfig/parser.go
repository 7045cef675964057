// Package tfconfig extracts a structured resource model from
// Terraform-style configuration text. Parsing is best-effort: malformed
// spans are dropped from the result and never abort the caller.
package tfconfig

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

// Parse turns raw source text into a Config. It never fails: diagnostics
// only reduce the set of recognized resources. Unparsable fragments are
// omitted, never fabricated. When two blocks share a full name the first
// occurrence wins.
func Parse(src string) *Config {
	cfg := &Config{}

	file, _ := hclsyntax.ParseConfig([]byte(src), "main.tf", hcl.Pos{Line: 1, Column: 1})
	if file == nil {
		return cfg
	}
	body, ok := file.Body.(*hclsyntax.Body)
	if !ok {
		return cfg
	}

	seen := make(map[string]bool)
	for _, block := range body.Blocks {
		if block.Type != "resource" || len(block.Labels) < 2 {
			continue
		}

		rng := block.Range()
		if rng.Start.Byte < 0 || rng.End.Byte > len(src) || rng.Start.Byte >= rng.End.Byte {
			continue
		}

		rec := ResourceRecord{
			Type:       block.Labels[0],
			Name:       block.Labels[1],
			FullName:   block.Labels[0] + "." + block.Labels[1],
			Properties: decodeBody(block.Body),
			RawText:    src[rng.Start.Byte:rng.End.Byte],
			StartLine:  rng.Start.Line,
			EndLine:    rng.End.Line,
		}

		if seen[rec.FullName] {
			continue
		}
		seen[rec.FullName] = true
		cfg.Resources = append(cfg.Resources, rec)
	}

	return cfg
}

// decodeBody decodes the literal attributes and single-level nested
// blocks of a resource body. Attributes whose expressions cannot be
// evaluated without context (variable references, function calls) are
// skipped rather than guessed.
func decodeBody(body *hclsyntax.Body) map[string]interface{} {
	props := make(map[string]interface{})

	for name, attr := range body.Attributes {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() || val.IsNull() {
			continue
		}
		if decoded, ok := decodeValue(val); ok {
			props[name] = decoded
		}
	}

	for _, nested := range body.Blocks {
		// First block of a repeated type wins; deeper nesting is reachable
		// through the record's RawText.
		if _, exists := props[nested.Type]; exists {
			continue
		}
		inner := make(map[string]interface{})
		for name, attr := range nested.Body.Attributes {
			val, diags := attr.Expr.Value(nil)
			if diags.HasErrors() || val.IsNull() {
				continue
			}
			if decoded, ok := decodeValue(val); ok {
				inner[name] = decoded
			}
		}
		props[nested.Type] = inner
	}

	return props
}

// decodeValue converts a cty value to its Go representation. Unknown and
// unsupported kinds report not-ok so callers drop them.
func decodeValue(val cty.Value) (interface{}, bool) {
	if !val.IsKnown() || val.IsNull() {
		return nil, false
	}

	ty := val.Type()
	switch {
	case ty == cty.String:
		return val.AsString(), true
	case ty == cty.Bool:
		return val.True(), true
	case ty == cty.Number:
		f, _ := val.AsBigFloat().Float64()
		return f, true
	case ty.IsTupleType() || ty.IsListType() || ty.IsSetType():
		var items []interface{}
		it := val.ElementIterator()
		for it.Next() {
			_, ev := it.Element()
			if decoded, ok := decodeValue(ev); ok {
				items = append(items, decoded)
			}
		}
		return items, true
	case ty.IsObjectType() || ty.IsMapType():
		m := make(map[string]interface{})
		val.ForEachElement(func(key, ev cty.Value) bool {
			if key.Type() != cty.String {
				return false
			}
			if decoded, ok := decodeValue(ev); ok {
				m[key.AsString()] = decoded
			}
			return false
		})
		return m, true
	default:
		return nil, false
	}
}
