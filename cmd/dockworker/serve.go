package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/waabox/dockworker/internal/api"
	"github.com/waabox/dockworker/internal/log"
	"github.com/waabox/dockworker/internal/metrics"
)

func newServeCommand(flags *rootFlags) *cobra.Command {
	var (
		listen    string
		logFormat string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			m := metrics.New()
			a, err := newApp(ctx, flags, appOptions{
				logFormat:    logFormat,
				pull:         true,
				pullOptional: true,
				publish:      true,
				metrics:      m,
				background:   ctx,
			})
			if err != nil {
				return err
			}
			defer a.Close()

			if listen == "" {
				listen = a.cfg.ListenOrDefault()
			}
			srv := api.New(api.Config{Listen: listen}, a.svc, m, log.WithComponent("api"))
			err = srv.Start(ctx)

			a.logger.Info("waiting for background jobs")
			a.svc.Wait()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (defaults to server.listen or :8000)")
	cmd.Flags().StringVar(&logFormat, "log-format", "json", "Log format: json or text")
	return cmd
}
