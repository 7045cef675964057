// Package policy defines the policy catalog: a static, append-only list
// of policy definitions, each pairing metadata with a pure check
// function. New policies are added to the catalog without touching the
// audit engine.
package policy

import "github.com/terravet/terravet/pkg/tfconfig"

// Category classifies what a policy protects.
type Category string

const (
	CategorySecurity    Category = "SECURITY"
	CategoryCost        Category = "COST"
	CategoryReliability Category = "RELIABILITY"
	CategoryPerformance Category = "PERFORMANCE"
	CategoryCompliance  Category = "COMPLIANCE"
)

// Severity ranks how urgent a violation is.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// Weight is the score penalty for one violation of this severity.
// INFO carries no penalty but still counts toward total issues.
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 25
	case SeverityHigh:
		return 15
	case SeverityMedium:
		return 5
	case SeverityLow:
		return 2
	default:
		return 0
	}
}

// Rank orders severities for sorting, most severe first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	default:
		return 4
	}
}

// TemplateRef is the sentinel resource reference for configuration-wide
// checks that are not tied to a single resource block.
const TemplateRef = "template"

// CheckFunc evaluates one policy against a parsed configuration and its
// raw source text. Check functions must be referentially transparent and
// side-effect free; the audit engine isolates any that return an error
// or panic, excluding them from the result without aborting the audit.
type CheckFunc func(cfg *tfconfig.Config, raw string) ([]Violation, error)

// Definition is one policy in the catalog. Code is the stable join key
// for all diffing and persistence; it never changes across releases.
type Definition struct {
	// Code uniquely identifies the policy, e.g. "S3_PUBLIC_ACCESS_BLOCK".
	Code string `json:"code"`

	// Name is the short human-readable title.
	Name string `json:"name"`

	// Description explains what the policy enforces.
	Description string `json:"description"`

	// Category classifies the policy.
	Category Category `json:"category"`

	// Severity is the severity assigned to violations of this policy.
	Severity Severity `json:"severity"`

	// Provider scopes the policy to a cloud provider, or "all".
	Provider string `json:"provider"`

	// AutoFixable indicates a remediation template exists for this code.
	AutoFixable bool `json:"auto_fixable"`

	// Check is the pure evaluation function.
	Check CheckFunc `json:"-"`
}

// Violation is one finding produced by a policy check. Identity for
// diffing purposes is (PolicyCode, ResourceRef), never object identity:
// two independent audit runs never share objects.
type Violation struct {
	// PolicyCode is the code of the producing policy.
	PolicyCode string `json:"policy_code"`

	// ResourceRef is the violating resource's full name, or TemplateRef
	// for configuration-wide findings.
	ResourceRef string `json:"resource_ref"`

	// Severity and Category are copied from the policy definition so a
	// violation is self-describing once detached from the catalog.
	Severity Severity `json:"severity"`
	Category Category `json:"category"`

	// Message describes the finding.
	Message string `json:"message"`

	// Suggestion describes how to fix it.
	Suggestion string `json:"suggestion,omitempty"`

	// AutoFixable indicates the remediation planner can generate a patch.
	AutoFixable bool `json:"auto_fixable"`

	// Metadata carries free-form numeric or string facts, such as
	// estimated monthly savings under the "monthlySavings" key.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Key returns the stable diff identity of the violation.
func (v Violation) Key() string {
	return v.PolicyCode + "|" + v.ResourceRef
}
