// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/holomush/accounts/internal/auth"
)

// testParams keeps argon2id cheap enough for unit tests.
var testParams = auth.HashParams{Memory: 1024, Iterations: 1, Threads: 1}

func newTestCodec(opts ...auth.CodecOption) *auth.CredentialCodec {
	return auth.NewCredentialCodec(append([]auth.CodecOption{auth.WithHashParams(testParams)}, opts...)...)
}

func mustHash(t *testing.T, codec *auth.CredentialCodec, password string) auth.HashRecord {
	t.Helper()
	rec, err := codec.Hash(context.Background(), password)
	require.NoError(t, err)
	return rec
}

// fakeClock is a manually advanced time source shared by every component
// under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingMetrics captures metric events.
type recordingMetrics struct {
	mu         sync.Mutex
	operations map[string][]string
	revoked    map[string]int64
	reaped     int64
	hashes     int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{
		operations: make(map[string][]string),
		revoked:    make(map[string]int64),
	}
}

func (m *recordingMetrics) ObserveOperation(operation, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations[operation] = append(m.operations[operation], outcome)
}

func (m *recordingMetrics) SessionsRevoked(reason string, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[reason] += n
}

func (m *recordingMetrics) SessionsReaped(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reaped += n
}

func (m *recordingMetrics) ObserveHash(string, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hashes++
}

func (m *recordingMetrics) outcomes(operation string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.operations[operation]...)
}

func (m *recordingMetrics) revokedFor(reason string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revoked[reason]
}

func (m *recordingMetrics) reapedTotal() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reaped
}

// logCapture is a slog handler that records messages for assertions.
type logCapture struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *logCapture) Enabled(context.Context, slog.Level) bool { return true }

func (h *logCapture) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *logCapture) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *logCapture) WithGroup(string) slog.Handler      { return h }

func (h *logCapture) messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.records))
	for i, r := range h.records {
		out[i] = r.Message
	}
	return out
}
