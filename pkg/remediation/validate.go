package remediation

import (
	"strings"

	"github.com/terravet/terravet/pkg/fault"
	"github.com/terravet/terravet/pkg/tfconfig"
)

// ValidateFix checks that a change can be applied to the given content
// without destroying it: the Before text (when present) must occur in
// the content, and the patched result must still parse to at least as
// many resources as the original.
func ValidateFix(content string, change Change) error {
	if change.After == "" {
		return fault.FixCheck("change has no replacement text", nil).
			WithResource(change.ResourceRef).
			WithOperation("validate")
	}
	if change.Before != "" && !strings.Contains(content, change.Before) {
		return fault.FixCheck("original text not found in content", nil).
			WithResource(change.ResourceRef).
			WithOperation("validate")
	}

	patched := ApplyFix(content, change)
	original := tfconfig.Parse(content)
	result := tfconfig.Parse(patched)
	if len(result.Resources) < len(original.Resources) {
		return fault.FixCheck("patched configuration loses resources", nil).
			WithResource(change.ResourceRef).
			WithOperation("validate")
	}

	return nil
}

// ApplyFix applies a change to the content. An empty Before appends
// the After text as a new top-level block; otherwise the first
// occurrence of Before is replaced.
func ApplyFix(content string, change Change) string {
	if change.Before == "" {
		if content == "" {
			return change.After + "\n"
		}
		return strings.TrimRight(content, "\n") + "\n\n" + change.After + "\n"
	}
	return strings.Replace(content, change.Before, change.After, 1)
}
