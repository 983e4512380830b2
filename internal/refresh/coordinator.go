// Package refresh renews the access token after a 401, one network call at a time.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/and161185/nomadrise/internal/errs"
	"github.com/and161185/nomadrise/internal/gateway"
	"github.com/and161185/nomadrise/internal/metrics"
	"github.com/and161185/nomadrise/internal/model"
	"github.com/and161185/nomadrise/internal/tokenstore"
)

// Path is the backend refresh endpoint.
const Path = "/token/refresh/"

// DefaultTimeout bounds one refresh flight.
const DefaultTimeout = 15 * time.Second

// LogoutFunc runs after a terminal refresh failure, once the tokens are cleared.
type LogoutFunc func(ctx context.Context)

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type refreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"` // set only when the backend rotates
}

// Coordinator implements gateway.Refresher.
type Coordinator struct {
	pub      gateway.Doer
	store    tokenstore.Store
	group    *singleflight.Group
	key      string
	onLogout LogoutFunc
	timeout  time.Duration
	log      *zap.Logger
	m        *metrics.Metrics
}

var _ gateway.Refresher = (*Coordinator)(nil)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithGroup shares a flight group between coordinators; callers with the same key share a flight.
func WithGroup(g *singleflight.Group, key string) Option {
	return func(c *Coordinator) { c.group, c.key = g, key }
}

// WithLogout sets the hook run after a terminal failure.
func WithLogout(fn LogoutFunc) Option { return func(c *Coordinator) { c.onLogout = fn } }

// WithTimeout bounds a flight.
func WithTimeout(d time.Duration) Option { return func(c *Coordinator) { c.timeout = d } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(c *Coordinator) { c.log = l } }

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option { return func(c *Coordinator) { c.m = m } }

// New builds a coordinator. pub must not carry credentials.
func New(pub gateway.Doer, store tokenstore.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		pub:     pub,
		store:   store,
		group:   &singleflight.Group{},
		key:     "refresh",
		timeout: DefaultTimeout,
		log:     zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

// Refresh returns an access token newer than stale.
//
// Concurrent callers share one flight and observe the same outcome. A caller
// whose ctx ends stops waiting; the flight itself keeps running.
func (c *Coordinator) Refresh(ctx context.Context, stale string) (string, error) {
	if cur, ok := c.store.AccessToken(ctx); ok && cur != stale {
		c.m.Refresh(metrics.RefreshReused)
		return cur, nil
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(c.key, func() (any, error) {
		return c.flight(flightCtx, stale)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Coordinator) flight(ctx context.Context, stale string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// a flight that finished between the caller's check and DoChan
	if cur, ok := c.store.AccessToken(ctx); ok && cur != stale {
		c.m.Refresh(metrics.RefreshReused)
		return cur, nil
	}

	refresh, ok := c.store.RefreshToken(ctx)
	if !ok {
		c.m.Refresh(metrics.RefreshNoRefreshToken)
		// An empty store means an earlier cycle already logged out.
		if _, hasAccess := c.store.AccessToken(ctx); hasAccess {
			c.logout(ctx, errs.ErrNoRefreshToken)
		}
		return "", errs.ErrNoRefreshToken
	}

	out, err := gateway.Post[refreshResponse](ctx, c.pub, Path, refreshRequest{Refresh: refresh})
	if err == nil && out.Access == "" {
		err = errors.New("empty access token in refresh response")
	}
	if err != nil {
		c.m.Refresh(metrics.RefreshFailure)
		c.logout(ctx, err)
		return "", fmt.Errorf("%w: %w", errs.ErrSessionExpired, err)
	}

	next := model.TokenPair{Access: out.Access, Refresh: refresh}
	if out.Refresh != "" {
		next.Refresh = out.Refresh
	}
	if err := c.store.SetTokens(ctx, next); err != nil {
		// callers still replay with the new token
		c.log.Error("store refreshed tokens", zap.Error(err))
	}
	c.m.Refresh(metrics.RefreshSuccess)
	c.log.Debug("access token refreshed", zap.Bool("rotated", out.Refresh != ""))
	return out.Access, nil
}

func (c *Coordinator) logout(ctx context.Context, cause error) {
	if err := c.store.ClearTokens(ctx); err != nil {
		c.log.Error("clear tokens", zap.Error(err))
	}
	c.log.Warn("session expired", zap.Error(cause))
	if c.onLogout != nil {
		c.onLogout(ctx)
	}
}
