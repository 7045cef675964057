package remediation

import (
	"context"
	"time"

	"github.com/terravet/terravet/pkg/fault"
	"github.com/terravet/terravet/pkg/policy"
)

// Suggester proposes an edit for a finding that no template covers.
// Implementations may call out to external services; the planner bounds
// every call with a timeout and degrades to a manual action item on
// failure.
type Suggester interface {
	Suggest(ctx context.Context, content string, v policy.Violation) (Change, error)
}

const defaultSuggestTimeout = 10 * time.Second

// suggestWithTimeout runs the suggester under a deadline and normalizes
// its output: the returned change always carries the violation's
// identity and the assist source.
func suggestWithTimeout(ctx context.Context, s Suggester, timeout time.Duration, content string, v policy.Violation) (Change, error) {
	if timeout <= 0 {
		timeout = defaultSuggestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	change, err := s.Suggest(ctx, content, v)
	if err != nil {
		return Change{}, fault.FixGen("suggester failed", err).WithResource(v.ResourceRef)
	}

	change.PolicyCode = v.PolicyCode
	change.ResourceRef = v.ResourceRef
	change.Source = SourceAssist
	if change.ID == "" {
		change.ID = newChange(v, SourceAssist).ID
	}
	return change, nil
}
