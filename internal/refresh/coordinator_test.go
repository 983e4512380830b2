package refresh

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/singleflight"

	"github.com/and161185/nomadrise/internal/errs"
	"github.com/and161185/nomadrise/internal/gateway"
	"github.com/and161185/nomadrise/internal/metrics"
	"github.com/and161185/nomadrise/internal/model"
	"github.com/and161185/nomadrise/internal/tokenstore"
)

// backend is a fake API: /users/me/ accepts only the current token,
// /token/refresh/ mints new tokens.
type backend struct {
	t *testing.T

	mu       sync.Mutex
	valid    string
	next     string
	rotate   string
	failWith int

	// refresh blocks until this many 401s were served (0 = no wait)
	waitFor int

	unauthorized atomic.Int32
	refreshCalls atomic.Int32
	lastRefresh  atomic.Value
}

func (b *backend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/users/me/", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		ok := r.Header.Get("Authorization") == "Bearer "+b.valid
		b.mu.Unlock()
		if !ok {
			b.unauthorized.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":1,"email":"alice@example.com","is_active":true}`))
	})
	mux.HandleFunc("/api/token/refresh/", func(w http.ResponseWriter, r *http.Request) {
		b.refreshCalls.Add(1)
		require.Empty(b.t, r.Header.Get("Authorization"), "refresh must not carry a bearer")
		var in refreshRequest
		_ = json.NewDecoder(r.Body).Decode(&in)
		b.lastRefresh.Store(in.Refresh)

		deadline := time.Now().Add(2 * time.Second)
		for b.waitFor > 0 && int(b.unauthorized.Load()) < b.waitFor && time.Now().Before(deadline) {
			time.Sleep(2 * time.Millisecond)
		}

		if b.failWith != 0 {
			w.WriteHeader(b.failWith)
			return
		}
		b.mu.Lock()
		b.valid = b.next
		b.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		out := refreshResponse{Access: b.next, Refresh: b.rotate}
		_ = json.NewEncoder(w).Encode(out)
	})
	return mux
}

type harness struct {
	store   *tokenstore.Memory
	coord   *Coordinator
	authed  *gateway.Authed
	m       *metrics.Metrics
	logouts atomic.Int32
}

func newHarness(t *testing.T, b *backend, pair model.TokenPair) *harness {
	t.Helper()
	b.t = t
	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)

	h := &harness{store: tokenstore.NewMemory(), m: metrics.New(prometheus.NewRegistry())}
	_ = h.store.SetTokens(context.Background(), pair)
	pub := gateway.NewPublic(srv.URL+"/api", gateway.WithLogger(zaptest.NewLogger(t)))
	h.coord = New(pub, h.store,
		WithLogger(zaptest.NewLogger(t)),
		WithMetrics(h.m),
		WithLogout(func(context.Context) { h.logouts.Add(1) }),
	)
	h.authed = gateway.NewAuthed(pub, h.store, h.coord)
	return h
}

func TestRefresh_ReplaysWithNewToken(t *testing.T) {
	t.Parallel()
	b := &backend{valid: "never", next: "new123"}
	h := newHarness(t, b, model.TokenPair{Access: "expired", Refresh: "ref-1"})

	u, err := gateway.Get[model.User](context.Background(), h.authed, "/users/me/", nil)
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", u.Email)

	require.Equal(t, int32(1), b.refreshCalls.Load())
	require.Equal(t, "ref-1", b.lastRefresh.Load())
	require.Equal(t, model.TokenPair{Access: "new123", Refresh: "ref-1"}, h.store.Pair(), "refresh token is retained")
	require.Equal(t, 1.0, testutil.ToFloat64(h.m.TokenRefresh.WithLabelValues(metrics.RefreshSuccess)))
}

func TestRefresh_AdoptsRotatedRefreshToken(t *testing.T) {
	t.Parallel()
	b := &backend{valid: "never", next: "acc-2", rotate: "ref-2"}
	h := newHarness(t, b, model.TokenPair{Access: "acc-1", Refresh: "ref-1"})

	_, err := h.authed.Do(context.Background(), gateway.Request{Path: "/users/me/"})
	require.NoError(t, err)
	require.Equal(t, model.TokenPair{Access: "acc-2", Refresh: "ref-2"}, h.store.Pair())
}

func TestRefresh_NoRefreshTokenMakesNoCall(t *testing.T) {
	t.Parallel()
	b := &backend{valid: "never", next: "x"}
	h := newHarness(t, b, model.TokenPair{Access: "acc-1"})

	_, err := h.authed.Do(context.Background(), gateway.Request{Path: "/users/me/"})
	require.ErrorIs(t, err, errs.ErrNoRefreshToken)
	require.ErrorIs(t, err, errs.ErrSessionExpired)

	require.Equal(t, int32(0), b.refreshCalls.Load())
	require.Equal(t, int32(1), h.logouts.Load())
	require.True(t, h.store.Pair().Empty())
}

func TestRefresh_FailureClearsAndLogsOut(t *testing.T) {
	t.Parallel()
	b := &backend{valid: "never", failWith: http.StatusUnauthorized}
	h := newHarness(t, b, model.TokenPair{Access: "acc-1", Refresh: "ref-1"})

	_, err := h.authed.Do(context.Background(), gateway.Request{Path: "/users/me/"})
	require.ErrorIs(t, err, errs.ErrSessionExpired)
	require.Equal(t, model.TokenPair{}, h.store.Pair())
	require.Equal(t, int32(1), h.logouts.Load())
	require.Equal(t, 1.0, testutil.ToFloat64(h.m.TokenRefresh.WithLabelValues(metrics.RefreshFailure)))
}

func TestRefresh_ConcurrentUnauthorizedShareOneFlight(t *testing.T) {
	t.Parallel()
	const n = 16
	b := &backend{valid: "never", next: "fresh", waitFor: n}
	h := newHarness(t, b, model.TokenPair{Access: "stale", Refresh: "ref"})

	start := make(chan struct{})
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, results[i] = h.authed.Do(context.Background(), gateway.Request{Path: "/users/me/"})
		}(i)
	}
	close(start)
	wg.Wait()

	require.Equal(t, int32(1), b.refreshCalls.Load(), "exactly one refresh call")
	for i, err := range results {
		require.NoError(t, err, "caller %d", i)
	}
	require.Equal(t, "fresh", h.store.Pair().Access)
}

func TestRefresh_ConcurrentFailureFansOut(t *testing.T) {
	t.Parallel()
	const n = 8
	b := &backend{valid: "never", failWith: http.StatusBadRequest, waitFor: n}
	h := newHarness(t, b, model.TokenPair{Access: "stale", Refresh: "ref"})

	start := make(chan struct{})
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, results[i] = h.authed.Do(context.Background(), gateway.Request{Path: "/users/me/"})
		}(i)
	}
	close(start)
	wg.Wait()

	require.Equal(t, int32(1), b.refreshCalls.Load())
	for i, err := range results {
		require.ErrorIs(t, err, errs.ErrSessionExpired, "caller %d", i)
	}
	require.Equal(t, int32(1), h.logouts.Load(), "one logout per cycle")
	require.True(t, h.store.Pair().Empty())
}

func TestRefresh_LateArrivalAfterFailureDoesNotLogOutAgain(t *testing.T) {
	t.Parallel()
	b := &backend{valid: "never", failWith: http.StatusUnauthorized}
	h := newHarness(t, b, model.TokenPair{Access: "stale", Refresh: "ref"})

	_, err := h.coord.Refresh(context.Background(), "stale")
	require.ErrorIs(t, err, errs.ErrSessionExpired)
	require.Equal(t, int32(1), h.logouts.Load())

	// a caller whose 401 landed after the failed flight cleared the store
	_, err = h.coord.Refresh(context.Background(), "stale")
	require.ErrorIs(t, err, errs.ErrNoRefreshToken)
	_, err = h.authed.Do(context.Background(), gateway.Request{Path: "/users/me/"})
	require.ErrorIs(t, err, errs.ErrSessionExpired)

	require.Equal(t, int32(1), b.refreshCalls.Load())
	require.Equal(t, int32(1), h.logouts.Load())
}

func TestRefresh_StaleTokenReusesNewer(t *testing.T) {
	t.Parallel()
	b := &backend{valid: "newer"}
	h := newHarness(t, b, model.TokenPair{Access: "newer", Refresh: "ref"})

	tok, err := h.coord.Refresh(context.Background(), "older")
	require.NoError(t, err)
	require.Equal(t, "newer", tok)
	require.Equal(t, int32(0), b.refreshCalls.Load())
	require.Equal(t, 1.0, testutil.ToFloat64(h.m.TokenRefresh.WithLabelValues(metrics.RefreshReused)))
}

func TestRefresh_WaiterCancelDoesNotAbortFlight(t *testing.T) {
	t.Parallel()
	// the refresh handler waits for a 401 that never comes, i.e. ~2s
	b := &backend{valid: "never", next: "late", waitFor: 1000}
	h := newHarness(t, b, model.TokenPair{Access: "stale", Refresh: "ref"})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := h.coord.Refresh(ctx, "stale")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.Eventually(t, func() bool { return h.store.Pair().Access == "late" }, 5*time.Second, 10*time.Millisecond)
}

func TestRefresh_SharedGroupAcrossCoordinators(t *testing.T) {
	t.Parallel()
	b := &backend{valid: "never", next: "shared", waitFor: 2}
	b.t = t
	srv := httptest.NewServer(b.handler())
	defer srv.Close()

	store := tokenstore.NewMemory()
	_ = store.SetTokens(context.Background(), model.TokenPair{Access: "stale", Refresh: "ref"})
	pub := gateway.NewPublic(srv.URL + "/api")
	g := &singleflight.Group{}

	c1 := New(pub, store, WithGroup(g, "session-1"))
	c2 := New(pub, store, WithGroup(g, "session-1"))
	a1 := gateway.NewAuthed(pub, store, c1)
	a2 := gateway.NewAuthed(pub, store, c2)

	var wg sync.WaitGroup
	for _, a := range []*gateway.Authed{a1, a2} {
		wg.Add(1)
		go func(a *gateway.Authed) {
			defer wg.Done()
			_, err := a.Do(context.Background(), gateway.Request{Path: "/users/me/"})
			require.NoError(t, err)
		}(a)
	}
	wg.Wait()
	require.Equal(t, int32(1), b.refreshCalls.Load())
}
