package remediation

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/terravet/terravet/pkg/policy"
	"github.com/terravet/terravet/pkg/telemetry"
	"github.com/terravet/terravet/pkg/tfconfig"
)

// Planner turns audit findings into an ordered list of changes. Each
// finding resolves through three tiers: a canned template when the
// policy is auto-fixable, then the suggester when one is configured,
// and finally a manual action item. Planning never fails on a single
// finding; the worst outcome for any finding is a manual item.
type Planner struct {
	suggester      Suggester
	suggestTimeout time.Duration
	logger         zerolog.Logger
	metrics        *telemetry.Metrics
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithSuggester wires an assist suggester into the planner.
func WithSuggester(s Suggester) PlannerOption {
	return func(p *Planner) { p.suggester = s }
}

// WithSuggestTimeout bounds each suggester call.
func WithSuggestTimeout(d time.Duration) PlannerOption {
	return func(p *Planner) { p.suggestTimeout = d }
}

// WithMetrics wires metrics into the planner.
func WithMetrics(m *telemetry.Metrics) PlannerOption {
	return func(p *Planner) { p.metrics = m }
}

// NewPlanner creates a planner.
func NewPlanner(logger zerolog.Logger, opts ...PlannerOption) *Planner {
	p := &Planner{
		suggestTimeout: defaultSuggestTimeout,
		logger:         telemetry.ComponentLogger(logger, "remediation"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan produces one change per finding, in finding order. Changes that
// carry an edit are validated against the content before being
// returned; an edit that fails validation degrades to a manual item.
func (p *Planner) Plan(ctx context.Context, content string, violations []policy.Violation) ([]Change, error) {
	cfg := tfconfig.Parse(content)

	changes := make([]Change, 0, len(violations))
	for _, v := range violations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		changes = append(changes, p.planOne(ctx, cfg, content, v))
	}
	return changes, nil
}

func (p *Planner) planOne(ctx context.Context, cfg *tfconfig.Config, content string, v policy.Violation) Change {
	if v.AutoFixable {
		if change, ok := templateFix(cfg, v); ok {
			if err := ValidateFix(content, change); err == nil {
				p.metrics.RecordFixGenerated(SourceTemplate)
				return change
			}
			p.logger.Warn().
				Str("policy_code", v.PolicyCode).
				Str("resource", v.ResourceRef).
				Msg("template fix failed validation, degrading")
		}
	}

	if p.suggester != nil {
		change, err := suggestWithTimeout(ctx, p.suggester, p.suggestTimeout, content, v)
		if err == nil && !change.Manual {
			if verr := ValidateFix(content, change); verr == nil {
				p.metrics.RecordFixGenerated(SourceAssist)
				return change
			}
		}
		if err != nil {
			p.logger.Warn().
				Str("policy_code", v.PolicyCode).
				Str("resource", v.ResourceRef).
				Err(err).
				Msg("suggester failed, degrading to manual")
		}
	}

	p.metrics.RecordFixGenerated(SourceManual)
	return manualChange(v)
}
