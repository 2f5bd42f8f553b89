// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/holomush/accounts/pkg/errutil"
)

// DefaultReapInterval is how often the Reaper purges dead sessions.
const DefaultReapInterval = 10 * time.Minute

// Reaper periodically purges expired and revoked sessions.
type Reaper struct {
	store    *SessionStore
	interval time.Duration
	logger   *slog.Logger
	metrics  Metrics

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewReaper creates a Reaper. A nil logger or metrics falls back to
// slog.Default and a no-op sink.
func NewReaper(store *SessionStore, interval time.Duration, logger *slog.Logger, metrics Metrics) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Reaper{
		store:    store,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
	}
}

// RunOnce executes a single reap cycle and returns the number of sessions
// purged.
func (r *Reaper) RunOnce(ctx context.Context) (int64, error) {
	n, err := r.store.ReapExpired(ctx)
	if err != nil {
		return 0, err
	}
	r.metrics.SessionsReaped(n)
	if n > 0 {
		r.logger.InfoContext(ctx, "reaped sessions", "count", n)
	}
	return n, nil
}

// Start begins periodic reaping. It runs one cycle immediately.
func (r *Reaper) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.run(ctx)
}

// Stop stops the reaper and waits for an in-flight cycle to finish.
func (r *Reaper) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Reaper) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.cycle(ctx)
		}
	}
}

func (r *Reaper) cycle(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
		errutil.LogError(r.logger, "session reap cycle failed", err)
	}
}
