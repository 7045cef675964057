// Package remediation turns audit findings into reviewable patches.
// Auto-fixable findings get concrete before/after text edits; the rest
// degrade to manual action items.
package remediation

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/terravet/terravet/pkg/policy"
)

// Change source values.
const (
	SourceTemplate = "template"
	SourceAssist   = "assist"
	SourceManual   = "manual"
)

// Change review statuses.
const (
	StatusProposed = "proposed"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
	StatusApplied  = "applied"
	StatusFailed   = "failed"
)

// Impact estimates what applying a change would do to the audit score
// and the monthly cost.
type Impact struct {
	// ScoreChange is the score points recovered by fixing the finding.
	ScoreChange int `json:"score_change"`

	// MonthlyCostChange is the expected monthly cost movement in
	// dollars; negative values are savings.
	MonthlyCostChange float64 `json:"monthly_cost_change"`
}

// Change is one proposed edit to a configuration. An empty Before
// means the After text is appended to the file; otherwise the first
// occurrence of Before is replaced with After.
type Change struct {
	ID          string `json:"id"`
	PolicyCode  string `json:"policy_code"`
	ResourceRef string `json:"resource_ref"`
	Description string `json:"description"`

	Before string `json:"before"`
	After  string `json:"after"`

	// Source records how the change was produced: template, assist,
	// or manual.
	Source string `json:"source"`

	// Status tracks the change through review and apply.
	Status string `json:"status"`

	// Impact is the estimated effect of applying the change.
	Impact Impact `json:"impact"`

	// Manual marks a degraded change whose edit is a placeholder
	// comment; manual changes are skipped by a default apply and only
	// take effect when accepted explicitly.
	Manual bool `json:"manual,omitempty"`
}

func newChange(v policy.Violation, source string) Change {
	return Change{
		ID:          uuid.New().String(),
		PolicyCode:  v.PolicyCode,
		ResourceRef: v.ResourceRef,
		Source:      source,
		Status:      StatusProposed,
		Impact:      impactOf(v),
	}
}

// impactOf derives the projected effect of fixing a finding: the score
// recovers the finding's severity weight, and cost-category findings
// carry their savings estimate in metadata.
func impactOf(v policy.Violation) Impact {
	imp := Impact{ScoreChange: v.Severity.Weight()}
	if savings, ok := v.Metadata["monthlySavings"].(float64); ok {
		imp.MonthlyCostChange = -savings
	}
	return imp
}

// manualChange builds the degraded change for a violation that could
// not be fixed automatically. The patch is a placeholder: an appended
// comment block describing the required manual fix, so the change
// still carries an applicable edit when explicitly accepted.
func manualChange(v policy.Violation) Change {
	c := newChange(v, SourceManual)
	c.Manual = true
	c.Description = v.Suggestion
	if c.Description == "" {
		c.Description = "Review and fix manually: " + v.Message
	}
	c.After = fmt.Sprintf("# MANUAL FIX REQUIRED: %s on %s\n# %s", v.PolicyCode, v.ResourceRef, c.Description)
	return c
}
