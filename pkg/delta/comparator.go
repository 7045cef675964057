// Package delta compares two revisions of a configuration and reports
// which findings are new, which were fixed, and how score and cost
// moved between them.
package delta

import (
	"context"
	"fmt"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/terravet/terravet/pkg/audit"
	"github.com/terravet/terravet/pkg/policy"
	"github.com/terravet/terravet/pkg/pricing"
	"github.com/terravet/terravet/pkg/telemetry"
)

// Delta is the difference between two audited revisions. Findings are
// matched by identity (policy code plus resource reference), so a
// finding that merely changed its message counts as unchanged.
type Delta struct {
	ScoreBefore int `json:"score_before"`
	ScoreAfter  int `json:"score_after"`
	ScoreChange int `json:"score_change"`

	NewViolations       []policy.Violation `json:"new_violations"`
	FixedViolations     []policy.Violation `json:"fixed_violations"`
	UnchangedViolations []policy.Violation `json:"unchanged_violations"`

	CostBefore float64 `json:"cost_before"`
	CostAfter  float64 `json:"cost_after"`
	CostChange float64 `json:"cost_change"`

	// Patch is a unified diff of the raw configuration text.
	Patch string `json:"patch"`

	Before *audit.Result `json:"-"`
	After  *audit.Result `json:"-"`
}

// Comparator audits two revisions and diffs the results.
type Comparator struct {
	engine *audit.Engine
	logger zerolog.Logger
}

// NewComparator creates a comparator over the given audit engine.
func NewComparator(engine *audit.Engine, logger zerolog.Logger) *Comparator {
	return &Comparator{
		engine: engine,
		logger: telemetry.ComponentLogger(logger, "delta"),
	}
}

// Compare audits both revisions and returns their delta. The two
// audits run concurrently; either failing fails the comparison.
func (c *Comparator) Compare(ctx context.Context, before, after string, opts *audit.Options) (*Delta, error) {
	var beforeResult, afterResult *audit.Result

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := c.engine.Audit(gctx, before, opts)
		if err != nil {
			return fmt.Errorf("audit of before revision: %w", err)
		}
		beforeResult = r
		return nil
	})
	g.Go(func() error {
		r, err := c.engine.Audit(gctx, after, opts)
		if err != nil {
			return fmt.Errorf("audit of after revision: %w", err)
		}
		afterResult = r
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	d := &Delta{
		ScoreBefore: beforeResult.Score,
		ScoreAfter:  afterResult.Score,
		ScoreChange: afterResult.Score - beforeResult.Score,
		Before:      beforeResult,
		After:       afterResult,
	}

	d.NewViolations, d.FixedViolations, d.UnchangedViolations = diffViolations(
		beforeResult.Violations, afterResult.Violations)

	if beforeResult.Cost != nil && afterResult.Cost != nil {
		d.CostBefore = beforeResult.Cost.TotalMonthly
		d.CostAfter = afterResult.Cost.TotalMonthly
		d.CostChange = pricing.Round2(d.CostAfter - d.CostBefore)
	}

	patch, err := unifiedPatch(before, after)
	if err != nil {
		return nil, fmt.Errorf("building patch: %w", err)
	}
	d.Patch = patch

	c.logger.Debug().
		Int("new", len(d.NewViolations)).
		Int("fixed", len(d.FixedViolations)).
		Int("score_change", d.ScoreChange).
		Msg("revisions compared")

	return d, nil
}

// diffViolations partitions the after-set against the before-set by
// finding identity. Slice order follows the audit result ordering.
func diffViolations(before, after []policy.Violation) (newV, fixed, unchanged []policy.Violation) {
	beforeKeys := make(map[string]bool, len(before))
	for _, v := range before {
		beforeKeys[v.Key()] = true
	}
	afterKeys := make(map[string]bool, len(after))
	for _, v := range after {
		afterKeys[v.Key()] = true
	}

	for _, v := range after {
		if beforeKeys[v.Key()] {
			unchanged = append(unchanged, v)
		} else {
			newV = append(newV, v)
		}
	}
	for _, v := range before {
		if !afterKeys[v.Key()] {
			fixed = append(fixed, v)
		}
	}
	return newV, fixed, unchanged
}

func unifiedPatch(before, after string) (string, error) {
	if before == after {
		return "", nil
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "before",
		ToFile:   "after",
		Context:  3,
	})
}
