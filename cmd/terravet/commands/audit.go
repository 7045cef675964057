package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/terravet/terravet/pkg/audit"
	"github.com/terravet/terravet/pkg/telemetry"
)

func newAuditCommand(version string) *cobra.Command {
	var (
		provider string
		region   string
		skipCost bool
		watch    bool
		minScore int
	)

	cmd := &cobra.Command{
		Use:   "audit <file>",
		Short: "Audit a configuration file against the policy catalog",
		Long: `Audit parses a Terraform-style configuration file, evaluates every
active policy against it, and reports the violations found together
with a 0-100 compliance score and a monthly cost estimate.

Parsing is tolerant: malformed blocks are skipped and the remaining
resources are still audited.`,
		Example: `  # Audit a file
  terravet audit main.tf

  # Audit and fail the build below a score threshold
  terravet audit main.tf --min-score 80

  # Re-audit automatically on every save
  terravet audit main.tf --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx, version)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			path := args[0]
			if skipCost {
				app.cfg.Audit.SkipCost = true
			}
			opts := app.auditOptions(provider, region)

			if watch {
				return watchAndAudit(ctx, app, path, opts, minScore)
			}

			result, err := auditFile(ctx, app, path, opts)
			if err != nil {
				return err
			}
			if err := renderAudit(result); err != nil {
				return err
			}
			if result.Score < minScore {
				return fmt.Errorf("score %d is below the required minimum %d", result.Score, minScore)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "cloud provider to audit for (default from config)")
	cmd.Flags().StringVar(&region, "region", "", "region used for cost estimation (default from config)")
	cmd.Flags().BoolVar(&skipCost, "skip-cost", false, "skip cost estimation")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-audit whenever the file changes")
	cmd.Flags().IntVar(&minScore, "min-score", 0, "exit non-zero when the score falls below this value")

	return cmd
}

func auditFile(ctx context.Context, app *app, path string, opts *audit.Options) (*audit.Result, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	ctx, span := app.tracer.StartAuditSpan(ctx, opts.Provider)
	defer span.End()

	result, err := app.engine.Audit(ctx, string(content), opts)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetResourceCount(span, result.ResourceCount)
	telemetry.RecordSuccess(span)
	return result, nil
}

// watchAndAudit re-runs the audit every time the file changes. Editors
// commonly replace files on save (rename + create), so the parent
// directory is watched rather than the file itself.
func watchAndAudit(ctx context.Context, app *app, path string, opts *audit.Options, minScore int) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	runOnce := func() {
		result, err := auditFile(ctx, app, abs, opts)
		if err != nil {
			app.logger.Error().Err(err).Str("path", abs).Msg("Audit failed")
			return
		}
		if err := renderAudit(result); err != nil {
			app.logger.Error().Err(err).Msg("Failed to render audit result")
			return
		}
		if result.Score < minScore {
			app.logger.Warn().
				Int("score", result.Score).
				Int("min_score", minScore).
				Msg("Score below required minimum")
		}
	}

	runOnce()
	app.logger.Info().Str("path", abs).Msg("Watching for changes")

	// Debounce: editors fire several events per save.
	var pending *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-fire:
			runOnce()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(200*time.Millisecond, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			app.logger.Warn().Err(err).Msg("Watcher error")
		}
	}
}

func renderAudit(result *audit.Result) error {
	if jsonOutput {
		return printJSON(result)
	}

	fmt.Printf("Score: %d/100    Resources: %d    Issues: %d\n",
		result.Score, result.ResourceCount, result.TotalIssues)
	fmt.Printf("Severity: %d critical, %d high, %d medium, %d low, %d info\n\n",
		result.CriticalCount, result.HighCount, result.MediumCount, result.LowCount, result.InfoCount)

	if len(result.Violations) > 0 {
		fmt.Println("Violations:")
		for _, v := range result.Violations {
			marker := " "
			if v.AutoFixable {
				marker = "*"
			}
			fmt.Printf("  [%-8s] %s %-28s %s: %s\n", v.Severity, marker, v.PolicyCode, v.ResourceRef, v.Message)
		}
		fmt.Println("  (* = auto-fixable)")
		fmt.Println()
	}

	if len(result.PolicyFailures) > 0 {
		fmt.Println("Policy failures (excluded from score):")
		for _, f := range result.PolicyFailures {
			fmt.Printf("  %s: %s\n", f.PolicyCode, f.Message)
		}
		fmt.Println()
	}

	if result.Cost != nil && len(result.Cost.Items) > 0 {
		fmt.Printf("Estimated monthly cost: $%.2f\n", result.Cost.TotalMonthly)
		for _, item := range result.Cost.Items {
			if item.Unestimable {
				fmt.Printf("  %-40s (no estimate)\n", item.ResourceRef)
				continue
			}
			fmt.Printf("  %-40s $%.2f\n", item.ResourceRef, item.MonthlyCost)
		}
	}

	return nil
}
