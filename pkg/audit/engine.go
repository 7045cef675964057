package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/terravet/terravet/pkg/inventory"
	"github.com/terravet/terravet/pkg/policy"
	"github.com/terravet/terravet/pkg/pricing"
	"github.com/terravet/terravet/pkg/telemetry"
	"github.com/terravet/terravet/pkg/tfconfig"
)

// Engine runs the active policy set against a configuration and
// assembles the audit result. Policy checks run concurrently and are
// isolated from each other: a check that errors or panics is reported
// as a policy failure and contributes no findings.
type Engine struct {
	registry  *policy.Registry
	estimator pricing.Estimator
	logger    zerolog.Logger
	metrics   *telemetry.Metrics
}

// NewEngine creates an audit engine. The estimator and metrics may be
// nil; cost estimation and instrumentation are then skipped.
func NewEngine(registry *policy.Registry, estimator pricing.Estimator, logger zerolog.Logger, metrics *telemetry.Metrics) *Engine {
	return &Engine{
		registry:  registry,
		estimator: estimator,
		logger:    telemetry.ComponentLogger(logger, "audit"),
		metrics:   metrics,
	}
}

// checkOutcome carries the result of one policy check back from its
// worker goroutine.
type checkOutcome struct {
	code       string
	violations []policy.Violation
	err        error
}

// Audit parses the given configuration content and evaluates every
// active policy against it.
func (e *Engine) Audit(ctx context.Context, content string, opts *Options) (*Result, error) {
	o := opts.withDefaults()
	started := time.Now()

	cfg := tfconfig.Parse(content)
	result, err := e.run(ctx, cfg, content, o)
	if err != nil {
		return nil, err
	}

	e.metrics.RecordAudit(o.Provider, time.Since(started))
	e.logger.Info().
		Str("provider", o.Provider).
		Int("resources", result.ResourceCount).
		Int("issues", result.TotalIssues).
		Int("score", result.Score).
		Msg("audit completed")

	return result, nil
}

// AuditInventory evaluates the active policy set against live
// resources discovered by an inventory source. The records are
// synthesized into a configuration view so policies see the same
// shapes they see for files.
func (e *Engine) AuditInventory(ctx context.Context, records []inventory.Record, opts *Options) (*Result, error) {
	o := opts.withDefaults()
	started := time.Now()

	cfg := &tfconfig.Config{Resources: make([]tfconfig.ResourceRecord, 0, len(records))}
	for _, rec := range records {
		cfg.Resources = append(cfg.Resources, tfconfig.ResourceRecord{
			Type:       rec.Type,
			Name:       rec.Name,
			FullName:   rec.Ref(),
			Properties: rec.Properties,
		})
	}

	result, err := e.run(ctx, cfg, "", o)
	if err != nil {
		return nil, err
	}

	e.metrics.RecordAudit(o.Provider, time.Since(started))
	return result, nil
}

func (e *Engine) run(ctx context.Context, cfg *tfconfig.Config, raw string, o Options) (*Result, error) {
	defs := e.registry.Active(o.Provider, o.Activation)

	outcomes := make(chan checkOutcome, len(defs))
	var wg sync.WaitGroup
	for _, def := range defs {
		wg.Add(1)
		go func(def policy.Definition) {
			defer wg.Done()
			outcomes <- e.runCheck(cfg, raw, def)
		}(def)
	}
	wg.Wait()
	close(outcomes)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &Result{
		Provider:      o.Provider,
		ResourceCount: len(cfg.Resources),
		Timestamp:     time.Now().UTC(),
	}

	byCode := make(map[string]checkOutcome, len(defs))
	for out := range outcomes {
		byCode[out.code] = out
	}

	// Iterate definitions rather than map order so passed checks come
	// out in registration order.
	for _, def := range defs {
		out := byCode[def.Code]
		if out.err != nil {
			result.PolicyFailures = append(result.PolicyFailures, PolicyFailure{
				PolicyCode: def.Code,
				Message:    out.err.Error(),
			})
			continue
		}
		if len(out.violations) == 0 {
			result.PassedChecks = append(result.PassedChecks, def.Code)
			continue
		}
		result.Violations = append(result.Violations, out.violations...)
	}

	for _, v := range result.Violations {
		result.TotalIssues++
		switch v.Severity {
		case policy.SeverityCritical:
			result.CriticalCount++
		case policy.SeverityHigh:
			result.HighCount++
		case policy.SeverityMedium:
			result.MediumCount++
		case policy.SeverityLow:
			result.LowCount++
		case policy.SeverityInfo:
			result.InfoCount++
		}
	}
	result.Score = computeScore(result.CriticalCount, result.HighCount, result.MediumCount, result.LowCount)

	sort.SliceStable(result.Violations, func(i, j int) bool {
		a, b := result.Violations[i], result.Violations[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() < b.Severity.Rank()
		}
		if a.PolicyCode != b.PolicyCode {
			return a.PolicyCode < b.PolicyCode
		}
		return a.ResourceRef < b.ResourceRef
	})

	if e.estimator != nil && !o.SkipCost {
		result.Cost = e.estimateCost(ctx, cfg, o.Region)
	}

	return result, nil
}

// runCheck executes one policy check, converting panics into errors so
// a misbehaving policy cannot take down the run.
func (e *Engine) runCheck(cfg *tfconfig.Config, raw string, def policy.Definition) (out checkOutcome) {
	out.code = def.Code
	defer func() {
		if r := recover(); r != nil {
			out.violations = nil
			out.err = fmt.Errorf("policy panicked: %v", r)
		}
		if out.err != nil {
			e.metrics.RecordPolicyFailure(def.Code)
			logger := telemetry.WithPolicyCode(e.logger, def.Code)
			logger.Warn().
				Err(out.err).
				Msg("policy check failed")
		}
	}()

	out.violations, out.err = def.Check(cfg, raw)
	return out
}

// estimateCost builds the cost report. A resource the estimator cannot
// price yields a zero-cost line marked unestimable; it never fails the
// audit.
func (e *Engine) estimateCost(ctx context.Context, cfg *tfconfig.Config, region string) *CostReport {
	report := &CostReport{
		Items:  make([]CostItem, 0, len(cfg.Resources)),
		ByType: make(map[string]float64),
	}

	var total float64
	for _, res := range cfg.Resources {
		item := CostItem{
			ResourceRef:  res.FullName,
			ResourceType: res.Type,
		}
		monthly, err := e.estimator.EstimateMonthly(ctx, res.Type, res.Properties, region)
		if err != nil {
			item.Unestimable = true
			if !errors.Is(err, pricing.ErrUnsupportedResource) {
				e.metrics.RecordPricingFailure()
				e.logger.Debug().
					Str("resource", res.FullName).
					Err(err).
					Msg("cost estimate failed")
			}
		} else {
			item.MonthlyCost = pricing.Round2(monthly)
			total += item.MonthlyCost
			report.ByType[res.Type] = pricing.Round2(report.ByType[res.Type] + item.MonthlyCost)
		}
		report.Items = append(report.Items, item)
	}
	report.TotalMonthly = pricing.Round2(total)

	return report
}
