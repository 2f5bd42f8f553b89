// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/accounts/internal/auth"
	"github.com/holomush/accounts/internal/httpapi"
	"github.com/holomush/accounts/internal/observability"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// newServeCmd creates the serve subcommand.
func newServeCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the accounts HTTP API",
		Long: `Serve the accounts HTTP API together with the metrics and health
endpoints. Expired sessions are purged in the background.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, deps.withDefaults())
		},
	}
}

func runServe(cmd *cobra.Command, deps *Deps) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := setupLogging(cmd, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg, logger, deps)
	if err != nil {
		return err
	}
	defer b.close()

	obs := observability.NewServer(cfg.Metrics.Addr, b.ready)
	var obsErrs <-chan error
	if cfg.Metrics.Addr != "" {
		obsErrs, err = obs.Start()
		if err != nil {
			return oops.Code("METRICS_START_FAILED").With("addr", cfg.Metrics.Addr).Wrap(err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if stopErr := obs.Stop(stopCtx); stopErr != nil {
				logger.Warn("failed to stop observability server", "error", stopErr)
			}
		}()
	}
	metrics := obs.Metrics()

	acc, err := newAccounts(cfg, b, logger, metrics)
	if err != nil {
		return err
	}

	reaper := auth.NewReaper(acc.sessions, cfg.Session.ReapInterval, logger, metrics)
	reaper.Start(ctx)
	defer reaper.Stop()

	handler := httpapi.New(acc.manager,
		httpapi.WithLogger(logger),
		httpapi.WithObserver(metrics),
		httpapi.WithRequestTimeout(cfg.HTTP.RequestTimeout),
	)

	listener, err := deps.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return oops.Code("LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErrs := make(chan error, 1)
	go func() {
		defer close(serveErrs)
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			serveErrs <- serveErr
		}
	}()
	logger.Info("accounts API listening",
		"addr", listener.Addr().String(),
		"storage", cfg.Storage.Driver,
		"session_ttl", cfg.Session.TTL)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr := <-serveErrs:
		runErr = oops.Code("SERVE_FAILED").Wrap(serveErr)
	case obsErr, ok := <-obsErrs:
		if ok {
			runErr = oops.Code("METRICS_SERVE_FAILED").Wrap(obsErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = oops.Code("SHUTDOWN_FAILED").Wrap(err)
	}
	return runErr
}
