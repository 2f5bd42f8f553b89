// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/holomush/accounts/internal/auth"
)

// newReapCmd creates the reap subcommand.
func newReapCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Purge expired and revoked sessions once",
		Long: `Physically delete sessions that expired or were revoked longer ago
than the configured reap grace, then exit. Useful from cron when the
server's background reaper is not running.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReap(cmd, deps.withDefaults())
		},
	}
}

func runReap(cmd *cobra.Command, deps *Deps) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := setupLogging(cmd, cfg)
	if err != nil {
		return err
	}

	b, err := openBackend(cmd.Context(), cfg, logger, deps)
	if err != nil {
		return err
	}
	defer b.close()

	n, err := auth.NewReaper(newSessionStore(cfg, b), cfg.Session.ReapInterval, logger, nil).RunOnce(cmd.Context())
	if err != nil {
		return err //nolint:wrapcheck // reaper errors carry their own codes
	}
	cmd.Printf("Reaped %d sessions\n", n)
	return nil
}
