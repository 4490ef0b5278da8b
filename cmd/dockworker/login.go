package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/waabox/dockworker/internal/auth"
	"github.com/waabox/dockworker/internal/config"
)

func newLoginCommand() *cobra.Command {
	var clientID string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize dockworker on GitHub and store the token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			configPath := config.DefaultConfigPath()
			cfg, err := config.LoadFrom(configPath)
			if err != nil {
				return err
			}
			if clientID == "" {
				clientID = cfg.GitHub.ClientID
			}

			token, err := runGitHubAuth(ctx, cmd, clientID)
			if err != nil {
				return fmt.Errorf("GitHub authentication failed: %w", err)
			}
			cfg.GitHub.Token = token
			if err := config.Save(configPath, cfg); err != nil {
				return fmt.Errorf("saving token: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Authenticated. Token saved to %s\n", configPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&clientID, "client-id", "", "OAuth App client id (defaults to github.client_id)")
	return cmd
}

// runGitHubAuth runs the GitHub Device Authorization Flow interactively.
// All prompts are written to stderr so stdout remains clean for piping.
func runGitHubAuth(ctx context.Context, cmd *cobra.Command, clientID string) (string, error) {
	flow, err := auth.NewGitHubDeviceFlow(clientID, "")
	if err != nil {
		return "", err
	}
	code, err := flow.RequestCode(ctx)
	if err != nil {
		return "", fmt.Errorf("requesting device code: %w", err)
	}
	w := cmd.ErrOrStderr()
	fmt.Fprintf(w, "Visit:      %s\n", code.VerificationURI)
	fmt.Fprintf(w, "Enter code: %s\n", code.UserCode)
	fmt.Fprintf(w, "Waiting for authorization...\n")
	if !code.Expiry.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, code.Expiry)
		defer cancel()
	}
	return flow.PollToken(ctx, code)
}
