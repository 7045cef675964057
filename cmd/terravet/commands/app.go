package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog"

	"github.com/terravet/terravet/pkg/audit"
	"github.com/terravet/terravet/pkg/config"
	"github.com/terravet/terravet/pkg/policy"
	"github.com/terravet/terravet/pkg/pricing"
	"github.com/terravet/terravet/pkg/remediation"
	"github.com/terravet/terravet/pkg/session"
	"github.com/terravet/terravet/pkg/stores"
	"github.com/terravet/terravet/pkg/telemetry"
)

// app wires the shared services every subcommand needs: config,
// logging, metrics, tracing, the policy registry, and the audit engine.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	registry *policy.Registry
	engine   *audit.Engine
	planner  *remediation.Planner

	store stores.Store
}

// newApp loads the configuration and builds the stateless services. The
// store is opened lazily via openStore so read-only commands like
// `audit <file>` never touch the database.
func newApp(ctx context.Context, version string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	tcfg := cfg.TelemetrySettings(version)
	if verbose {
		tcfg.Logging.Level = "debug"
	}
	if err := tcfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	logger, err := telemetry.NewLogger(tcfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	metrics, err := telemetry.NewMetrics(tcfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}
	if tcfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(tcfg.Metrics.Path, metrics.Handler())
		go func() {
			if err := http.ListenAndServe(tcfg.Metrics.ListenAddress, mux); err != nil {
				logger.Warn().Err(err).Msg("metrics endpoint stopped")
			}
		}()
	}

	tracer, err := telemetry.NewTracer(tcfg.Tracing, tcfg.ServiceName, tcfg.ServiceVersion, tcfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	var extra []policy.Definition
	if len(cfg.Policies.Paths) > 0 {
		extra, err = policy.NewLoader(logger).LoadFromPaths(ctx, cfg.Policies.Paths)
		if err != nil {
			return nil, fmt.Errorf("failed to load custom policies: %w", err)
		}
	}

	registry, err := policy.NewDefaultRegistry(logger, extra...)
	if err != nil {
		return nil, fmt.Errorf("failed to build policy registry: %w", err)
	}

	engine := audit.NewEngine(registry, pricing.NewCatalog(), telemetry.ComponentLogger(logger, "audit"), metrics)

	plannerOpts := []remediation.PlannerOption{remediation.WithMetrics(metrics)}
	if cfg.Remediation.SuggestTimeout > 0 {
		plannerOpts = append(plannerOpts, remediation.WithSuggestTimeout(cfg.Remediation.SuggestTimeout))
	}
	planner := remediation.NewPlanner(telemetry.ComponentLogger(logger, "remediation"), plannerOpts...)

	return &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
		registry: registry,
		engine:   engine,
		planner:  planner,
	}, nil
}

// openStore opens (and migrates) the SQLite store configured for this app.
func (a *app) openStore(ctx context.Context) (stores.Store, error) {
	store, err := stores.NewSQLiteStore(a.cfg.StoreSettings())
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	a.store = store
	return store, nil
}

func (a *app) orchestrator(store stores.Store) *session.Orchestrator {
	return session.NewOrchestrator(store, a.engine, a.planner,
		telemetry.ComponentLogger(a.logger, "session"), a.metrics)
}

// auditOptions builds audit options from the config file defaults,
// overridden by command flags where set.
func (a *app) auditOptions(provider, region string) *audit.Options {
	opts := &audit.Options{
		Provider:   a.cfg.Audit.Provider,
		Region:     a.cfg.Audit.Region,
		Activation: a.cfg.Activation(),
		SkipCost:   a.cfg.Audit.SkipCost,
	}
	if provider != "" {
		opts.Provider = provider
	}
	if region != "" {
		opts.Region = region
	}
	return opts
}

func (a *app) close(ctx context.Context) {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to close store")
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("failed to shut down tracer")
		}
	}
}

// resolveTemplate accepts either a template ID or a template name.
func resolveTemplate(ctx context.Context, store stores.Store, ref string) (*stores.Template, error) {
	tpl, err := store.GetTemplate(ctx, ref)
	if err == nil {
		return tpl, nil
	}
	tpl, nameErr := store.GetTemplateByName(ctx, ref)
	if nameErr != nil {
		return nil, fmt.Errorf("template %q not found", ref)
	}
	return tpl, nil
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
