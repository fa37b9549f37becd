package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/djlord-it/pushcron/internal/api"
	"github.com/djlord-it/pushcron/internal/config"
)

// tokenCmd mints an admin API token signed with ADMIN_JWT_SECRET.
func tokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin API bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.AdminJWTSecret == "" {
				return invalidConfig(errors.New("ADMIN_JWT_SECRET: required"))
			}
			if ttl <= 0 {
				return errors.New("--ttl must be positive")
			}
			auth, err := api.NewAuthenticator(cfg.AdminJWTSecret)
			if err != nil {
				return err
			}
			tok, err := auth.Issue(subject, ttl)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "admin", "Operator name recorded as the sender of ad hoc notifications")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
