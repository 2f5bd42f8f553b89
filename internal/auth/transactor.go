// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"time"
)

// Transactor runs fn inside a single persistence transaction. Repository
// calls made with the context passed to fn participate in it. If fn returns
// an error the transaction is rolled back and the error returned unchanged.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Metrics receives account and session events. Implementations must be safe
// for concurrent use.
type Metrics interface {
	// ObserveOperation counts a manager operation by outcome code
	// ("ok" or an error code).
	ObserveOperation(operation, outcome string)

	// SessionsRevoked counts revoked sessions by reason.
	SessionsRevoked(reason string, n int64)

	// SessionsReaped counts physically purged sessions.
	SessionsReaped(n int64)

	// ObserveHash records the duration of a hash ("hash") or verification
	// ("verify").
	ObserveHash(operation string, elapsed time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, string)   {}
func (noopMetrics) SessionsRevoked(string, int64)     {}
func (noopMetrics) SessionsReaped(int64)              {}
func (noopMetrics) ObserveHash(string, time.Duration) {}
