package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newRestoreCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <template> <version>",
		Short: "Restore a template to an earlier version",
		Long: `Restore appends a new version carrying the content of an earlier one.
History is append-only: nothing is deleted, and the restore itself can
be undone by restoring again. Restoring the current version is a no-op.`,
		Example: `  # Roll web-stack back to version 2
  terravet restore web-stack 2`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx, version)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			target, err := strconv.Atoi(args[1])
			if err != nil || target < 1 {
				return fmt.Errorf("invalid version %q", args[1])
			}

			store, err := app.openStore(ctx)
			if err != nil {
				return err
			}

			tpl, err := resolveTemplate(ctx, store, args[0])
			if err != nil {
				return err
			}

			restored, err := app.orchestrator(store).RestoreVersion(ctx, tpl.ID, target)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(restored)
			}

			if restored.Version == target {
				fmt.Printf("Template %q is already at version %d\n", tpl.Name, target)
				return nil
			}
			fmt.Printf("Template %q restored to version %d content as version %d\n",
				tpl.Name, target, restored.Version)
			return nil
		},
	}

	return cmd
}
