package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/terravet/terravet/pkg/stores"
)

func newImportCommand(version string) *cobra.Command {
	var (
		name        string
		description string
		provider    string
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a configuration file as a managed template",
		Long: `Import registers a configuration file in the local store and records
its content as version 1. Every later remediation or restore appends a
new version; history is never rewritten.`,
		Example: `  # Import under the file's base name
  terravet import main.tf

  # Import with an explicit name
  terravet import main.tf --name web-stack --description "production web tier"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx, version)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}

			if name == "" {
				name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}
			if provider == "" {
				provider = app.cfg.Audit.Provider
			}

			store, err := app.openStore(ctx)
			if err != nil {
				return err
			}

			tpl := &stores.Template{
				ID:          uuid.New().String(),
				Name:        name,
				Description: description,
				Provider:    provider,
			}
			if err := store.CreateTemplate(ctx, tpl); err != nil {
				return fmt.Errorf("failed to create template: %w", err)
			}

			ver, err := store.CreateVersion(ctx, tpl.ID, string(content), fmt.Sprintf("imported from %s", args[0]))
			if err != nil {
				return fmt.Errorf("failed to record initial version: %w", err)
			}

			if jsonOutput {
				return printJSON(map[string]interface{}{
					"template": tpl,
					"version":  ver.Version,
				})
			}

			fmt.Printf("Imported %s as template %q (id %s), version %d\n", args[0], tpl.Name, tpl.ID, ver.Version)
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "template name (defaults to the file base name)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "template description")
	cmd.Flags().StringVar(&provider, "provider", "", "cloud provider (default from config)")

	return cmd
}
