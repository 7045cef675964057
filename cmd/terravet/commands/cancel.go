package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCancelCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Cancel a pending remediation session",
		Long: `Cancel discards a session that is still planning or reviewing. A
session that is applying, completed, or already cancelled cannot be
cancelled; the template's version history is never touched.`,
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

			if err := app.orchestrator(store).Cancel(ctx, args[0]); err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(map[string]string{"session_id": args[0], "status": "cancelled"})
			}
			fmt.Printf("Session %s cancelled\n", args[0])
			return nil
		},
	}

	return cmd
}
