// Package audit evaluates infrastructure configuration against the
// active policy set and produces a scored report with cost estimates.
package audit

import (
	"time"

	"github.com/terravet/terravet/pkg/policy"
)

// Severity weight applied per finding when computing the score.
const (
	criticalPenalty = 25
	highPenalty     = 15
	mediumPenalty   = 5
	lowPenalty      = 2
)

// Result is the outcome of a single audit run.
type Result struct {
	// Score is the compliance score in [0, 100]. INFO findings do
	// not affect it.
	Score int `json:"score"`

	// TotalIssues counts all findings including INFO.
	TotalIssues int `json:"total_issues"`

	CriticalCount int `json:"critical_count"`
	HighCount     int `json:"high_count"`
	MediumCount   int `json:"medium_count"`
	LowCount      int `json:"low_count"`
	InfoCount     int `json:"info_count"`

	// Violations is ordered by severity (most severe first), then by
	// policy code, then by resource reference.
	Violations []policy.Violation `json:"violations"`

	// PassedChecks lists the codes of active policies that executed
	// successfully and found nothing.
	PassedChecks []string `json:"passed_checks"`

	// PolicyFailures lists policies that errored or panicked during
	// this run. A failed policy contributes no findings.
	PolicyFailures []PolicyFailure `json:"policy_failures,omitempty"`

	// Cost is the monthly cost estimate for the audited resources.
	Cost *CostReport `json:"cost,omitempty"`

	ResourceCount int       `json:"resource_count"`
	Provider      string    `json:"provider"`
	Timestamp     time.Time `json:"timestamp"`
}

// PolicyFailure records a policy whose check could not complete.
type PolicyFailure struct {
	PolicyCode string `json:"policy_code"`
	Message    string `json:"message"`
}

// CostReport is the monthly cost breakdown for an audit.
type CostReport struct {
	// TotalMonthly is the sum of all estimable line items, rounded
	// to two decimals.
	TotalMonthly float64 `json:"total_monthly"`

	// Items holds one line per resource, in resource order.
	Items []CostItem `json:"items"`

	// ByType sums estimable line items per resource type.
	ByType map[string]float64 `json:"by_type"`
}

// CostItem is the monthly cost estimate for one resource.
type CostItem struct {
	ResourceRef  string  `json:"resource_ref"`
	ResourceType string  `json:"resource_type"`
	MonthlyCost  float64 `json:"monthly_cost"`

	// Unestimable is set when no estimate could be produced. The
	// line item then carries a zero cost and is excluded from totals.
	Unestimable bool `json:"unestimable,omitempty"`
}

// Options control a single audit run.
type Options struct {
	// Provider filters the policy set; empty means "aws".
	Provider string

	// Region used for cost estimation; empty means "us-east-1".
	Region string

	// Activation enables or disables individual policies by code.
	// Policies absent from the map stay enabled.
	Activation policy.Activation

	// SkipCost disables cost estimation for this run.
	SkipCost bool
}

func (o *Options) withDefaults() Options {
	out := Options{}
	if o != nil {
		out = *o
	}
	if out.Provider == "" {
		out.Provider = "aws"
	}
	if out.Region == "" {
		out.Region = "us-east-1"
	}
	return out
}

// computeScore applies the severity penalties and clamps to [0, 100].
func computeScore(critical, high, medium, low int) int {
	score := 100 - criticalPenalty*critical - highPenalty*high - mediumPenalty*medium - lowPenalty*low
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
