package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "terravet",
		Short: "Terravet - Infrastructure Configuration Auditor",
		Long: `Terravet audits Terraform-style configuration files against a catalog
of security, cost, and reliability policies, and plans safe remediations.

Features:
  - Tolerant HCL parsing (audits keep working on partially broken files)
  - Built-in AWS policy catalog plus custom Rego policies
  - 0-100 compliance scoring with per-severity penalties
  - Diffing of audit results between two revisions
  - Reviewable remediation sessions with versioned rollback
  - Live AWS account scanning`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newAuditCommand(version))
	rootCmd.AddCommand(newDiffCommand(version))
	rootCmd.AddCommand(newImportCommand(version))
	rootCmd.AddCommand(newPlanCommand(version))
	rootCmd.AddCommand(newApplyCommand(version))
	rootCmd.AddCommand(newCancelCommand(version))
	rootCmd.AddCommand(newVersionsCommand(version))
	rootCmd.AddCommand(newRestoreCommand(version))
	rootCmd.AddCommand(newPoliciesCommand(version))
	rootCmd.AddCommand(newScanCommand(version))

	return rootCmd
}
