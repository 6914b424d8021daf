package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Refresher renews an expiring credential.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// MaintainerStatus is a snapshot of the last refresh attempt.
type MaintainerStatus struct {
	LastAttempt time.Time `json:"last_attempt,omitzero"`
	LastSuccess time.Time `json:"last_success,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
	Failures    int       `json:"consecutive_failures"`
}

// TokenMaintainer refreshes a credential on a fixed interval, retrying sooner
// after a failure. It never touches the queue.
type TokenMaintainer struct {
	refresher Refresher
	interval  time.Duration
	retry     time.Duration
	logger    *slog.Logger

	mu     sync.Mutex
	status MaintainerStatus
}

// NewTokenMaintainer creates a maintainer. retry defaults to a fifth of interval.
func NewTokenMaintainer(r Refresher, interval, retry time.Duration, logger *slog.Logger) *TokenMaintainer {
	if interval <= 0 {
		interval = time.Hour
	}
	if retry <= 0 || retry > interval {
		retry = interval / 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenMaintainer{
		refresher: r,
		interval:  interval,
		retry:     retry,
		logger:    logger.With("component", "token_maintainer"),
	}
}

// Run sleeps, refreshes, and repeats until ctx is cancelled.
func (m *TokenMaintainer) Run(ctx context.Context) error {
	m.logger.Info("token maintainer started", "interval", m.interval, "retry", m.retry)
	wait := m.interval

	for {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.logger.Info("token maintainer stopped")
			return nil
		case <-timer.C:
		}

		if err := m.RefreshNow(ctx); err != nil {
			wait = m.retry
			continue
		}
		wait = m.interval
	}
}

// RefreshNow performs one refresh attempt and records its outcome.
func (m *TokenMaintainer) RefreshNow(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("token refresh panic: %v", r)
		}
		m.record(err)
	}()
	return m.refresher.Refresh(ctx)
}

// Status returns the last refresh outcome.
func (m *TokenMaintainer) Status() MaintainerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *TokenMaintainer) record(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	m.status.LastAttempt = now
	if err != nil {
		m.status.Failures++
		m.status.LastError = err.Error()
		m.logger.Error("token refresh failed", "error", err, "failures", m.status.Failures, "retry_in", m.retry)
		return
	}
	m.status.Failures = 0
	m.status.LastError = ""
	m.status.LastSuccess = now
}
