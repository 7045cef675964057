package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terravet/terravet/pkg/telemetry"
)

func newApplyCommand(version string) *cobra.Command {
	var changeIDs []string

	cmd := &cobra.Command{
		Use:   "apply <session-id>",
		Short: "Apply a session's reviewed changes as a new template version",
		Long: `Apply takes a session in the reviewing state, applies the accepted
changes to the baseline content, and records the result as a new
template version. Changes that fail validation are skipped and
reported; if none survive, the session returns to reviewing so the
plan can be revisited.

Without --change, every automatic (non-manual) change is applied.`,
		Example: `  # Apply every automatic change
  terravet apply 2f1c9a7e-...

  # Apply only selected changes
  terravet apply 2f1c9a7e-... --change 7d3b... --change a41e...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx, version)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			store, err := app.openStore(ctx)
			if err != nil {
				return err
			}

			ctx, span := app.tracer.StartSessionSpan(ctx, args[0], "apply")
			defer span.End()

			result, err := app.orchestrator(store).ApplyChanges(ctx, args[0], changeIDs)
			if err != nil {
				telemetry.RecordError(span, err)
				return err
			}
			telemetry.RecordSuccess(span)

			if jsonOutput {
				return printJSON(result)
			}

			fmt.Printf("Session %s completed: version %d written, score %d\n",
				result.Session.ID, result.NewVersion, result.FinalScore)
			fmt.Printf("Applied %d change(s)", len(result.Applied))
			if len(result.Failed) > 0 {
				fmt.Printf(", %d failed validation:", len(result.Failed))
				fmt.Println()
				for _, id := range result.Failed {
					fmt.Printf("  %s\n", id)
				}
			} else {
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&changeIDs, "change", nil, "apply only the listed change IDs")

	return cmd
}
