package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/waabox/dockworker/internal/service"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(service.ExitCode(err))
	}
}

type rootFlags struct {
	logLevel string
}

func newRootCommand() *cobra.Command {
	var flags rootFlags
	cmd := &cobra.Command{
		Use:           "dockworker",
		Short:         "Copy public container images into a private registry through GitHub Actions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides log_level")

	cmd.AddCommand(newForkCommand(&flags))
	cmd.AddCommand(newWorkflowsCommand(&flags))
	cmd.AddCommand(newRunsCommand(&flags))
	cmd.AddCommand(newJobsCommand(&flags))
	cmd.AddCommand(newServeCommand(&flags))
	cmd.AddCommand(newFormCommand(&flags))
	cmd.AddCommand(newLoginCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "dockworker", version)
		},
	}
}
