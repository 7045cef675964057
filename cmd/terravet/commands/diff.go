package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/terravet/terravet/pkg/delta"
	"github.com/terravet/terravet/pkg/policy"
)

func newDiffCommand(version string) *cobra.Command {
	var (
		provider  string
		region    string
		showPatch bool
	)

	cmd := &cobra.Command{
		Use:   "diff <before> <after>",
		Short: "Compare audit results between two configuration files",
		Long: `Diff audits two revisions of a configuration and reports which
violations are new, which were fixed, and how the score and the
estimated monthly cost changed. Findings are matched by policy code
and resource reference, so message wording changes never show up as
churn.`,
		Example: `  # Compare a working copy against the committed version
  terravet diff main.tf.orig main.tf

  # Include the unified text patch
  terravet diff main.tf.orig main.tf --patch`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx, version)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			before, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			after, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[1], err)
			}

			comparator := delta.NewComparator(app.engine, app.logger)
			d, err := comparator.Compare(ctx, string(before), string(after), app.auditOptions(provider, region))
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(d)
			}

			fmt.Printf("Score: %d -> %d (%+d)\n", d.ScoreBefore, d.ScoreAfter, d.ScoreChange)
			fmt.Printf("Cost:  $%.2f -> $%.2f (%+.2f/month)\n\n", d.CostBefore, d.CostAfter, d.CostChange)

			printViolationGroup("New violations", d.NewViolations)
			printViolationGroup("Fixed violations", d.FixedViolations)
			printViolationGroup("Unchanged violations", d.UnchangedViolations)

			if showPatch && d.Patch != "" {
				fmt.Println("Patch:")
				fmt.Println(d.Patch)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "cloud provider to audit for (default from config)")
	cmd.Flags().StringVar(&region, "region", "", "region used for cost estimation (default from config)")
	cmd.Flags().BoolVar(&showPatch, "patch", false, "print the unified text diff")

	return cmd
}

func printViolationGroup(title string, violations []policy.Violation) {
	if len(violations) == 0 {
		return
	}
	fmt.Printf("%s (%d):\n", title, len(violations))
	for _, v := range violations {
		fmt.Printf("  [%-8s] %-28s %s: %s\n", v.Severity, v.PolicyCode, v.ResourceRef, v.Message)
	}
	fmt.Println()
}
