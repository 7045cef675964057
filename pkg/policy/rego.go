package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/open-policy-agent/opa/rego"

	"github.com/terravet/terravet/pkg/tfconfig"
)

// regoInput is the document handed to custom Rego policies.
type regoInput struct {
	Resources []tfconfig.ResourceRecord `json:"resources"`
	Raw       string                    `json:"raw"`
}

// compileRegoDefinition prepares a Rego module as a catalog Definition.
// The module's deny set drives violations; each deny entry is either a
// message string or an object with message/resource/suggestion keys.
// Prepared queries are reused across audits, and evaluation stays pure:
// same input, same violations.
func compileRegoDefinition(ctx context.Context, meta Definition, source string) (Definition, error) {
	pkg := regoPackageName(source)
	if pkg == "" {
		return Definition{}, fmt.Errorf("policy %s: missing package declaration", meta.Code)
	}

	query, err := rego.New(
		rego.Module(meta.Code, source),
		rego.Query(fmt.Sprintf("data.%s.deny", pkg)),
	).PrepareForEval(ctx)
	if err != nil {
		return Definition{}, fmt.Errorf("policy %s: prepare failed: %w", meta.Code, err)
	}

	meta.Check = func(cfg *tfconfig.Config, raw string) ([]Violation, error) {
		results, err := query.Eval(context.Background(), rego.EvalInput(regoInput{
			Resources: cfg.Resources,
			Raw:       raw,
		}))
		if err != nil {
			return nil, fmt.Errorf("rego evaluation: %w", err)
		}

		var out []Violation
		for _, result := range results {
			for _, expr := range result.Expressions {
				denySet, ok := expr.Value.([]interface{})
				if !ok {
					continue
				}
				for _, entry := range denySet {
					out = append(out, violationFromDeny(meta, entry))
				}
			}
		}
		return out, nil
	}
	return meta, nil
}

// violationFromDeny maps one deny entry to a Violation, defaulting the
// resource reference to the template sentinel.
func violationFromDeny(meta Definition, entry interface{}) Violation {
	v := Violation{
		PolicyCode:  meta.Code,
		ResourceRef: TemplateRef,
		Severity:    meta.Severity,
		Category:    meta.Category,
		AutoFixable: meta.AutoFixable,
	}

	switch e := entry.(type) {
	case string:
		v.Message = e
	case map[string]interface{}:
		if msg, ok := e["message"].(string); ok {
			v.Message = msg
		}
		if res, ok := e["resource"].(string); ok && res != "" {
			v.ResourceRef = res
		}
		if sug, ok := e["suggestion"].(string); ok {
			v.Suggestion = sug
		}
	default:
		v.Message = fmt.Sprintf("%v", entry)
	}
	return v
}

// regoPackageName extracts the package path from Rego source.
func regoPackageName(source string) string {
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			fields := strings.Fields(trimmed)
			if len(fields) >= 2 {
				return fields[1]
			}
		}
	}
	return ""
}
