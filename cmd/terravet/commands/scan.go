package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terravet/terravet/pkg/inventory"
	"github.com/terravet/terravet/pkg/telemetry"
)

func newScanCommand(version string) *cobra.Command {
	var region string

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Audit live AWS resources instead of a configuration file",
		Long: `Scan discovers EC2 instances and volumes, S3 buckets, and RDS
instances in an AWS account using the ambient credential chain, then
audits them with the same policy catalog used for files. Discovery is
all-or-nothing: a single failing API call aborts the scan rather than
reporting a partial, misleadingly high score.`,
		Example: `  # Scan the configured region
  terravet scan

  # Scan a specific region
  terravet scan --region eu-central-1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx, version)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			opts := app.auditOptions("aws", region)

			source, err := inventory.NewAWSSource(ctx, opts.Region, telemetry.ComponentLogger(app.logger, "inventory"))
			if err != nil {
				return fmt.Errorf("failed to set up AWS discovery: %w", err)
			}

			records, err := source.Discover(ctx, opts.Region)
			if err != nil {
				return fmt.Errorf("discovery failed: %w", err)
			}
			app.logger.Info().Int("resources", len(records)).Str("region", opts.Region).Msg("Discovery complete")

			ctx, span := app.tracer.StartAuditSpan(ctx, opts.Provider)
			defer span.End()
			telemetry.SetResourceCount(span, len(records))

			result, err := app.engine.AuditInventory(ctx, records, opts)
			if err != nil {
				telemetry.RecordError(span, err)
				return err
			}
			telemetry.RecordSuccess(span)
			return renderAudit(result)
		},
	}

	cmd.Flags().StringVar(&region, "region", "", "AWS region to scan (default from config)")

	return cmd
}
