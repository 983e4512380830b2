package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/nomadrise/internal/errs"
	"github.com/and161185/nomadrise/internal/gateway"
	"github.com/and161185/nomadrise/internal/limiter"
	"github.com/and161185/nomadrise/internal/model"
	"github.com/and161185/nomadrise/internal/tokenstore"
)

type fakeLimiter struct {
	allowOK    bool
	allowRetry time.Duration
	allowErr   error

	failBlocked bool
	failErr     error

	successErr error

	lastSubject  string
	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(_ context.Context, subject string, _ []byte) (bool, time.Duration, error) {
	l.allowCalls++
	l.lastSubject = subject
	return l.allowOK, l.allowRetry, l.allowErr
}

func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return l.successErr
}

func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	if l.failBlocked {
		return true, 15 * time.Minute, l.failErr
	}
	return false, 0, l.failErr
}

// newBackend serves /auth/login/ (bat@example.mn / correct) and /auth/register/.
func newBackend(t *testing.T, down bool) gateway.Doer {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if down {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"detail":"upstream"}`))
			return
		}
		var in model.EmailLogin
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in.Password != "correct" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"Invalid credentials"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(model.LoginResponse{
			Access: "acc", Refresh: "ref", User: model.LoginUser{ID: 12, Email: in.Email},
		})
	})
	mux.HandleFunc("/api/auth/register/", func(w http.ResponseWriter, r *http.Request) {
		var in model.RegisterRequest
		_ = json.NewDecoder(r.Body).Decode(&in)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if in.FirstName == "pending" {
			_, _ = w.Write([]byte(`{"message":"Check your email"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(model.RegisterResponse{
			Access: "ra", Refresh: "rr", User: &model.LoginUser{ID: 13, Email: in.Email},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return gateway.NewPublic(srv.URL + "/api")
}

func TestAuth_LoginWithIP_RateLimiterAndCreds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sessions := tokenstore.NewMemorySessions(0)
	lim := &fakeLimiter{allowOK: true}
	s := NewAuthService(newBackend(t, false), sessions, lim, zaptest.NewLogger(t))

	_, err := s.LoginWithIP(ctx, "", "x", "1.2.3.4")
	require.ErrorIs(t, err, errs.ErrValidation)
	require.Zero(t, lim.allowCalls)

	lim.allowErr = errors.New("lim-err")
	_, err = s.LoginWithIP(ctx, "bat@example.mn", "correct", "1.2.3.4")
	require.Error(t, err)
	lim.allowErr = nil

	lim.allowOK, lim.allowRetry = false, 7*time.Minute
	_, err = s.LoginWithIP(ctx, "bat@example.mn", "correct", "1.2.3.4")
	require.ErrorIs(t, err, errs.ErrRateLimited)
	var rl *RateLimitedError
	require.ErrorAs(t, err, &rl)
	require.Equal(t, 7*time.Minute, rl.RetryAfter)
	lim.allowOK = true

	_, err = s.LoginWithIP(ctx, "bat@example.mn", "wrong", "1.2.3.4")
	require.ErrorIs(t, err, errs.ErrUnauthorized)
	require.Equal(t, 1, lim.failureCalls)

	lim.failBlocked = true
	_, err = s.LoginWithIP(ctx, "bat@example.mn", "wrong", "1.2.3.4")
	require.ErrorIs(t, err, errs.ErrRateLimited)
	lim.failBlocked = false
	require.Zero(t, sessions.Len(), "failed logins leave no session behind")

	got, err := s.LoginWithIP(ctx, " Bat@Example.mn", "correct", "1.2.3.4")
	require.NoError(t, err)
	require.Equal(t, "bat@example.mn", lim.lastSubject)
	require.NotEmpty(t, got.SessionID)
	require.Equal(t, int64(12), got.User.ID)
	require.Equal(t, 1, lim.successCalls)

	access, ok := sessions.Store(got.SessionID).AccessToken(ctx)
	require.True(t, ok)
	require.Equal(t, "acc", access)

	require.Equal(t, 1, sessions.Len())

	require.NoError(t, s.Logout(ctx, got.SessionID))
	_, ok = sessions.Store(got.SessionID).AccessToken(ctx)
	require.False(t, ok)
	require.Zero(t, sessions.Len())
}

func TestAuth_LoginWithIP_BackendDownNotCounted(t *testing.T) {
	t.Parallel()
	lim := &fakeLimiter{allowOK: true}
	s := NewAuthService(newBackend(t, true), tokenstore.NewMemorySessions(0), lim, nil)

	_, err := s.LoginWithIP(context.Background(), "bat@example.mn", "correct", "1.2.3.4")
	require.Error(t, err)
	require.NotErrorIs(t, err, errs.ErrUnauthorized)
	require.Zero(t, lim.failureCalls)
}

func TestAuth_Register(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sessions := tokenstore.NewMemorySessions(0)
	s := NewAuthService(newBackend(t, false), sessions, &fakeLimiter{allowOK: true}, nil)

	l, out, err := s.Register(ctx, model.RegisterRequest{FirstName: "Saraa", Email: "s@x.mn", Password: "pw"})
	require.NoError(t, err)
	require.NotEmpty(t, l.SessionID)
	require.Equal(t, int64(13), l.User.ID)
	require.Equal(t, "ra", out.Access)
	refresh, ok := sessions.Store(l.SessionID).RefreshToken(ctx)
	require.True(t, ok)
	require.Equal(t, "rr", refresh)

	l, out, err = s.Register(ctx, model.RegisterRequest{FirstName: "pending", Email: "p@x.mn", Password: "pw"})
	require.NoError(t, err)
	require.Empty(t, l.SessionID)
	require.Equal(t, "Check your email", out.Message)
	require.Equal(t, 1, sessions.Len(), "pending registration holds no session")

	_, _, err = s.Register(ctx, model.RegisterRequest{Email: "p@x.mn"})
	require.ErrorIs(t, err, errs.ErrValidation)
}
