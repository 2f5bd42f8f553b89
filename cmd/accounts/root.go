// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/holomush/accounts/internal/config"
	"github.com/holomush/accounts/internal/logging"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the accounts CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(nil)
}

func newRootCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "User account and session service",
		Long: `accounts manages user registration, credentials, profiles and
login sessions, and serves them over an HTTP/JSON API.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/accounts/config.yaml)")
	config.BindFlags(cmd.PersistentFlags())

	cmd.AddCommand(newServeCmd(deps))
	cmd.AddCommand(newMigrateCmd(deps))
	cmd.AddCommand(newReapCmd(deps))
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the configuration for cmd from the config file, the
// environment and the flags the user set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	//nolint:wrapcheck // config errors carry their own codes
	return config.Load(config.Options{File: configFile, Flags: cmd.Flags()})
}

// setupLogging installs the service logger as the slog default.
func setupLogging(cmd *cobra.Command, cfg config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.SetDefault("accounts", version, cfg.Log.Format, level, cmd.ErrOrStderr()), nil
}
