package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionsCommand(version string) *cobra.Command {
	var history int

	cmd := &cobra.Command{
		Use:   "versions <template>",
		Short: "List a template's version history and audit scores",
		Long: `Versions lists every recorded revision of a template, newest first,
together with the audit scores snapshotted for it. Templates may be
referenced by ID or by name.`,
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

			versions, err := store.ListVersions(ctx, tpl.ID)
			if err != nil {
				return err
			}
			snapshots, err := store.ListAuditSnapshots(ctx, tpl.ID, history)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(map[string]interface{}{
					"template":  tpl,
					"versions":  versions,
					"snapshots": snapshots,
				})
			}

			scoreByVersion := make(map[int]int, len(snapshots))
			for _, snap := range snapshots {
				if _, seen := scoreByVersion[snap.Version]; !seen {
					scoreByVersion[snap.Version] = snap.Score
				}
			}

			fmt.Printf("Template %q (%s)\n\n", tpl.Name, tpl.ID)
			for _, v := range versions {
				score := "  -"
				if s, ok := scoreByVersion[v.Version]; ok {
					score = fmt.Sprintf("%3d", s)
				}
				fmt.Printf("  v%-4d score %s  %s  %s\n",
					v.Version, score, v.CreatedAt.Format("2006-01-02 15:04:05"), v.Description)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&history, "history", 0, "limit audit snapshots considered (0 = all)")

	return cmd
}
