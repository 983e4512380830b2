// Package oauthsync links a third-party sign-in to a backend user record.
package oauthsync

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/nomadrise/internal/errs"
	"github.com/and161185/nomadrise/internal/metrics"
	"github.com/and161185/nomadrise/internal/model"
	"github.com/and161185/nomadrise/internal/session"
)

// Syncer resolves an OAuth identity to a backend user.
type Syncer interface {
	SyncUser(ctx context.Context, req model.SyncRequest) (model.SyncResult, error)
}

// Policy is a bounded exponential retry.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
}

// DefaultPolicy is 3 attempts with 1s then 2s between them.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, Multiplier: 2}
}

// Backoff returns the wait after the given failed attempt (1-based).
func (p Policy) Backoff(failed int) time.Duration {
	if failed < 1 {
		return 0
	}
	return time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(failed-1)))
}

// SleepFunc waits for d or until ctx ends.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Bridge retries Syncer calls and folds the result into a session.
type Bridge struct {
	api    Syncer
	policy Policy
	sleep  SleepFunc
	log    *zap.Logger
	m      *metrics.Metrics
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithPolicy overrides DefaultPolicy.
func WithPolicy(p Policy) Option { return func(b *Bridge) { b.policy = p } }

// WithSleep replaces the wait between attempts.
func WithSleep(fn SleepFunc) Option { return func(b *Bridge) { b.sleep = fn } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(b *Bridge) { b.log = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option { return func(b *Bridge) { b.m = m } }

// New builds a Bridge over api.
func New(api Syncer, opts ...Option) *Bridge {
	b := &Bridge{api: api, policy: DefaultPolicy(), sleep: sleepCtx, log: zap.NewNop()}
	for _, o := range opts {
		o(b)
	}
	if b.policy.MaxAttempts < 1 {
		b.policy.MaxAttempts = 1
	}
	if b.log == nil {
		b.log = zap.NewNop()
	}
	return b
}

// Sync calls the backend up to MaxAttempts times. The error wraps errs.ErrSyncFailed.
func (b *Bridge) Sync(ctx context.Context, req model.SyncRequest) (model.SyncResult, error) {
	var lastErr error
	for attempt := 1; attempt <= b.policy.MaxAttempts; attempt++ {
		res, err := b.api.SyncUser(ctx, req)
		b.m.SyncAttempt(err == nil)
		if err == nil {
			return res, nil
		}
		lastErr = err
		b.log.Warn("oauth sync attempt failed",
			zap.Int("attempt", attempt),
			zap.String("provider", req.Provider),
			zap.Error(err),
		)
		if attempt == b.policy.MaxAttempts {
			break
		}
		if err := b.sleep(ctx, b.policy.Backoff(attempt)); err != nil {
			return model.SyncResult{}, fmt.Errorf("%w: %w", errs.ErrSyncFailed, err)
		}
	}
	return model.SyncResult{}, fmt.Errorf("%w after %d attempts: %w", errs.ErrSyncFailed, b.policy.MaxAttempts, lastErr)
}

// Link stores the backend user id on c unless it is already set.
//
// Failure is logged and leaves c unlinked; it never aborts sign-in.
func (b *Bridge) Link(ctx context.Context, c *session.Claims) bool {
	if c.BackendUserID != 0 {
		return true
	}
	res, err := b.Sync(ctx, model.SyncRequest{
		Email:             c.Email,
		Name:              c.Name,
		Image:             c.Picture,
		Provider:          c.Provider,
		ProviderAccountID: c.ProviderAccountID,
	})
	if err != nil {
		b.log.Error("oauth sync exhausted; session stays unlinked",
			zap.String("provider", c.Provider),
			zap.Error(err),
		)
		return false
	}
	c.BackendUserID = res.UserID
	b.log.Info("oauth identity linked",
		zap.String("provider", c.Provider),
		zap.Int64("backend_user_id", res.UserID),
		zap.Bool("created", res.Created),
	)
	return true
}
