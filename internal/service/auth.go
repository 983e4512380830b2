// Package service contains the web server's application services: email login and data deletion.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/nomadrise/internal/backend"
	"github.com/and161185/nomadrise/internal/errs"
	"github.com/and161185/nomadrise/internal/gateway"
	"github.com/and161185/nomadrise/internal/limiter"
	"github.com/and161185/nomadrise/internal/model"
	"github.com/and161185/nomadrise/internal/tokenstore"
)

// RateLimitedError carries the retry-after of a blocked login. It matches errs.ErrRateLimited.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Is implements errors.Is.
func (e *RateLimitedError) Is(target error) bool { return target == errs.ErrRateLimited }

// Login is a successful email login bound to a fresh session id.
type Login struct {
	SessionID string
	User      model.LoginUser
}

// AuthService signs users in against the backend and keeps their tokens per session.
type AuthService struct {
	pub      gateway.Doer
	sessions tokenstore.Sessions
	lim      limiter.Limiter
	log      *zap.Logger
}

// NewAuthService constructs AuthService.
func NewAuthService(pub gateway.Doer, sessions tokenstore.Sessions, lim limiter.Limiter, log *zap.Logger) *AuthService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthService{pub: pub, sessions: sessions, lim: lim, log: log}
}

func newSessionID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// LoginWithIP authenticates with rate limiting by (email, ip).
// Rejected credentials count as failures; backend outages do not.
func (s *AuthService) LoginWithIP(ctx context.Context, email, password, ip string) (Login, error) {
	if email == "" || password == "" {
		return Login{}, fmt.Errorf("%w: email and password are required", errs.ErrValidation)
	}
	subject := limiter.Subject(email)
	ipHash := limiter.HashIP(ip)

	allowed, retry, err := s.lim.Allow(ctx, subject, ipHash)
	if err != nil {
		return Login{}, fmt.Errorf("limiter: %w", err)
	}
	if !allowed {
		return Login{}, &RateLimitedError{RetryAfter: retry}
	}

	sid, err := newSessionID()
	if err != nil {
		return Login{}, err
	}
	store := s.sessions.Store(sid)
	out, err := backend.NewAuth(s.pub, store).LoginEmail(ctx, email, password)
	if err != nil {
		s.discard(ctx, store)
		if !errors.Is(err, errs.ErrUnauthorized) && !errors.Is(err, errs.ErrValidation) {
			return Login{}, err
		}
		blocked, retry, ferr := s.lim.Failure(ctx, subject, ipHash)
		if ferr != nil {
			s.log.Warn("limiter failure not recorded", zap.Error(ferr))
		}
		if blocked {
			return Login{}, &RateLimitedError{RetryAfter: retry}
		}
		return Login{}, errs.ErrUnauthorized
	}

	if err := s.lim.Success(ctx, subject, ipHash); err != nil {
		s.log.Warn("limiter reset failed", zap.Error(err))
	}
	return Login{SessionID: sid, User: out.User}, nil
}

// Register creates a backend account. SessionID is empty unless the backend signed the user in.
func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest) (Login, model.RegisterResponse, error) {
	sid, err := newSessionID()
	if err != nil {
		return Login{}, model.RegisterResponse{}, err
	}
	store := s.sessions.Store(sid)
	out, err := backend.NewAuth(s.pub, store).Register(ctx, req)
	if err != nil {
		s.discard(ctx, store)
		return Login{}, model.RegisterResponse{}, err
	}
	if out.Access == "" {
		s.discard(ctx, store)
		return Login{}, out, nil
	}
	l := Login{SessionID: sid}
	if out.User != nil {
		l.User = *out.User
	}
	return l, out, nil
}

// Logout forgets the tokens of session id.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	return s.sessions.Store(sessionID).ClearTokens(ctx)
}

// discard drops whatever a failed sign-in left under its unused session id.
func (s *AuthService) discard(ctx context.Context, store tokenstore.Store) {
	if err := store.ClearTokens(ctx); err != nil {
		s.log.Warn("session cleanup failed", zap.Error(err))
	}
}
