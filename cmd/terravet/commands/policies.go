package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPoliciesCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "List the policies in the catalog",
		Long: `Policies lists every check the audit engine knows about: the built-in
catalog plus any custom Rego policies configured under policies.paths.
Codes marked disabled in the config file are shown but not evaluated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := newApp(ctx, version)
			if err != nil {
				return err
			}
			defer app.close(ctx)

			defs := app.registry.All()
			if jsonOutput {
				return printJSON(defs)
			}

			act := app.cfg.Activation()
			for _, def := range defs {
				fix := " "
				if def.AutoFixable {
					fix = "*"
				}
				state := ""
				if !act.Enabled(def.Code) {
					state = " (disabled)"
				}
				fmt.Printf("  [%-8s] %s %-28s %-12s %s%s\n",
					def.Severity, fix, def.Code, def.Category, def.Name, state)
			}
			fmt.Println("  (* = auto-fixable)")
			return nil
		},
	}

	return cmd
}
