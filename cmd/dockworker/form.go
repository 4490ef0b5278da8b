package main

import (
	"github.com/spf13/cobra"

	"github.com/waabox/dockworker/internal/tui"
)

func newFormCommand(flags *rootFlags) *cobra.Command {
	var opts tui.FormOptions
	cmd := &cobra.Command{
		Use:   "form",
		Short: "Interactive form to fork images and browse recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if flags.logLevel == "" {
				flags.logLevel = "error"
			}
			a, err := newApp(ctx, flags, appOptions{pull: opts.Pull, publish: true})
			if err != nil {
				return err
			}
			defer a.Close()
			return tui.Run(ctx, a.svc, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Workflow, "workflow", "", "Workflow name (defaults to github.default_workflow)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Track the latest run instead of dispatching a new one")
	cmd.Flags().BoolVar(&opts.Pull, "pull", false, "Pull forked images locally")
	cmd.Flags().IntVar(&opts.HistoryLimit, "history", 10, "Number of recent jobs to show")
	return cmd
}
