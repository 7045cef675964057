package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terravet/terravet/pkg/session"
	"github.com/terravet/terravet/pkg/telemetry"
)

func newPlanCommand(version string) *cobra.Command {
	var (
		provider string
		region   string
	)

	cmd := &cobra.Command{
		Use:   "plan <template>",
		Short: "Audit a template and plan remediations for review",
		Long: `Plan audits the latest version of an imported template and proposes
one change per violation: a canned fix where one exists, otherwise a
manual review item. The resulting session waits in the reviewing state
until its changes are applied with 'apply' or discarded with 'cancel'.

Templates may be referenced by ID or by name.`,
		Example: `  # Plan remediations for a template
  terravet plan web-stack

  # Review the proposed changes as JSON
  terravet plan web-stack --json`,
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

			tpl, err := resolveTemplate(ctx, store, args[0])
			if err != nil {
				return err
			}

			ctx, span := app.tracer.Start(ctx, "session.plan")
			defer span.End()

			sess, err := app.orchestrator(store).AnalyzeAndPlan(ctx, tpl.ID, app.auditOptions(provider, region))
			if err != nil {
				telemetry.RecordError(span, err)
				return err
			}
			telemetry.RecordSuccess(span)

			if jsonOutput {
				return printJSON(sess)
			}
			renderSession(sess)
			fmt.Printf("\nApply with:  terravet apply %s\n", sess.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "cloud provider to audit for (default from config)")
	cmd.Flags().StringVar(&region, "region", "", "region used for cost estimation (default from config)")

	return cmd
}

func renderSession(sess *session.Session) {
	fmt.Printf("Session %s (%s)\n", sess.ID, sess.Status)
	fmt.Printf("Template %s, baseline version %d\n", sess.TemplateID, sess.BaselineVersion)
	fmt.Printf("Score: %d now, %d if all automatic changes are applied\n", sess.OriginalScore, sess.ProjectedScore)
	if sess.ProjectedCostChange != 0 {
		fmt.Printf("Projected cost change: %+.2f/month\n", sess.ProjectedCostChange)
	}
	if sess.Error != "" {
		fmt.Printf("Error: %s\n", sess.Error)
	}

	if len(sess.Changes) == 0 {
		fmt.Println("\nNo changes proposed.")
		return
	}

	fmt.Printf("\nProposed changes (%d):\n", len(sess.Changes))
	for _, ch := range sess.Changes {
		kind := ch.Source
		if ch.Manual {
			kind = "manual"
		}
		fmt.Printf("  %s  [%-8s] %-28s %s\n", ch.ID, kind, ch.PolicyCode, ch.ResourceRef)
		fmt.Printf("      %s (status: %s)\n", ch.Description, ch.Status)
	}
}
