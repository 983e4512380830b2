package tokenstore

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/nomadrise/internal/model"
)

// checkRoundTrip asserts set-then-get returns the last write and clear-then-get is empty.
func checkRoundTrip(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok := s.AccessToken(ctx)
	require.False(t, ok, "fresh store must be empty")

	require.NoError(t, s.SetTokens(ctx, model.TokenPair{Access: "a1", Refresh: "r1"}))
	require.NoError(t, s.SetTokens(ctx, model.TokenPair{Access: "a2", Refresh: "r2"}))

	a, ok := s.AccessToken(ctx)
	require.True(t, ok)
	require.Equal(t, "a2", a)
	r, ok := s.RefreshToken(ctx)
	require.True(t, ok)
	require.Equal(t, "r2", r)

	require.NoError(t, s.ClearTokens(ctx))
	require.NoError(t, s.ClearTokens(ctx), "clear must be idempotent")

	a, ok = s.AccessToken(ctx)
	require.False(t, ok)
	require.Empty(t, a)
	r, ok = s.RefreshToken(ctx)
	require.False(t, ok)
	require.Empty(t, r)
}

func TestMemory_RoundTrip(t *testing.T) {
	t.Parallel()
	checkRoundTrip(t, NewMemory())
}

func TestMemory_NoTornReads(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if i%2 == 0 {
					_ = m.SetTokens(ctx, model.TokenPair{Access: "a-x", Refresh: "r-x"})
				} else {
					_ = m.SetTokens(ctx, model.TokenPair{Access: "a-y", Refresh: "r-y"})
				}
				p := m.Pair()
				if p.Access[2:] != p.Refresh[2:] {
					t.Errorf("torn pair: %+v", p)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestFile_RoundTrip(t *testing.T) {
	t.Parallel()
	checkRoundTrip(t, NewFile(filepath.Join(t.TempDir(), "nomadrise", "token.json")))
}

func TestFile_PermissionsAndExpiry(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "nomadrise", "token.json")
	f := NewFile(p)

	exp := time.Now().Add(5 * time.Minute).Truncate(time.Second)
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	require.NoError(t, f.SetTokens(context.Background(), model.TokenPair{Access: access, Refresh: "r"}))

	st, err := os.Stat(p)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), st.Mode().Perm())
	require.True(t, f.ExpiresAt().Equal(exp), "expiry %v, want %v", f.ExpiresAt(), exp)

	entries, err := os.ReadDir(filepath.Dir(p))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp file must not be left behind")
}

func TestFile_CorruptReadsEmpty(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(p, []byte("{not json"), 0o600))

	f := NewFile(p)
	_, ok := f.AccessToken(context.Background())
	require.False(t, ok)
	_, ok = f.RefreshToken(context.Background())
	require.False(t, ok)
}

func TestAccessExpiry_Opaque(t *testing.T) {
	t.Parallel()
	require.True(t, AccessExpiry("").IsZero())
	require.True(t, AccessExpiry("not-a-jwt").IsZero())
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func TestRedis_RoundTrip(t *testing.T) {
	t.Parallel()
	_, rdb := newTestRedis(t)
	sessions := NewRedisSessions(rdb, time.Hour, zaptest.NewLogger(t))
	checkRoundTrip(t, sessions.Session("s1"))
}

func TestRedis_SessionsAreIsolated(t *testing.T) {
	t.Parallel()
	_, rdb := newTestRedis(t)
	sessions := NewRedisSessions(rdb, time.Hour, zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, sessions.Session("a").SetTokens(ctx, model.TokenPair{Access: "x", Refresh: "y"}))
	_, ok := sessions.Session("b").AccessToken(ctx)
	require.False(t, ok)
}

func TestRedis_TTLApplied(t *testing.T) {
	t.Parallel()
	mr, rdb := newTestRedis(t)
	sessions := NewRedisSessions(rdb, 10*time.Minute, zaptest.NewLogger(t))
	ctx := context.Background()

	s := sessions.Session("ttl")
	require.NoError(t, s.SetTokens(ctx, model.TokenPair{Access: "a", Refresh: "r"}))
	require.Equal(t, 10*time.Minute, mr.TTL(keyPrefix+"ttl"))

	mr.FastForward(11 * time.Minute)
	_, ok := s.AccessToken(ctx)
	require.False(t, ok)
}

func TestRedis_UnavailableReadsEmpty(t *testing.T) {
	t.Parallel()
	mr, rdb := newTestRedis(t)
	sessions := NewRedisSessions(rdb, time.Hour, zaptest.NewLogger(t))
	ctx := context.Background()

	s := sessions.Session("down")
	require.NoError(t, s.SetTokens(ctx, model.TokenPair{Access: "a", Refresh: "r"}))
	mr.Close()

	a, ok := s.AccessToken(ctx)
	require.False(t, ok)
	require.Empty(t, a)
	require.Error(t, sessions.Ping(ctx))
}

func TestSessions_Isolated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	for name, s := range map[string]Sessions{
		"memory": NewMemorySessions(0),
		"redis":  NewRedisSessions(rdb, time.Minute, nil),
	} {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Store("a").SetTokens(ctx, model.TokenPair{Access: "aa", Refresh: "ar"}))
			_, ok := s.Store("b").AccessToken(ctx)
			require.False(t, ok)
			got, ok := s.Store("a").AccessToken(ctx)
			require.True(t, ok)
			require.Equal(t, "aa", got)
		})
	}
}

func TestMemorySessions_EntriesLiveOnlyWhileTokensHeld(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemorySessions(0)

	for i := 0; i < 10000; i++ {
		id := strconv.Itoa(i)
		_, _ = s.Store(id).AccessToken(ctx)
		_, _ = s.Store(id).RefreshToken(ctx)
	}
	require.Zero(t, s.Len(), "reads allocate nothing")

	for i := 0; i < 10000; i++ {
		st := s.Store(strconv.Itoa(i))
		require.NoError(t, st.SetTokens(ctx, model.TokenPair{Access: "a", Refresh: "r"}))
		require.NoError(t, st.ClearTokens(ctx))
	}
	require.Zero(t, s.Len())

	require.NoError(t, s.Store("x").SetTokens(ctx, model.TokenPair{Access: "a"}))
	require.NoError(t, s.Store("x").SetTokens(ctx, model.TokenPair{}))
	require.Zero(t, s.Len(), "an empty pair drops the entry")

	require.NoError(t, s.Store("r").SetTokens(ctx, model.TokenPair{Refresh: "only"}))
	got, ok := s.Store("r").RefreshToken(ctx)
	require.True(t, ok)
	require.Equal(t, "only", got)
}

func TestMemorySessions_TTL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	s := NewMemorySessions(time.Hour)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Store("old").SetTokens(ctx, model.TokenPair{Access: "a", Refresh: "r"}))
	now = now.Add(59 * time.Minute)
	_, ok := s.Store("old").AccessToken(ctx)
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = s.Store("old").AccessToken(ctx)
	require.False(t, ok)
	require.Zero(t, s.Len(), "expired entry removed on read")

	require.NoError(t, s.Store("stale").SetTokens(ctx, model.TokenPair{Access: "a"}))
	now = now.Add(2 * time.Hour)
	for i := 0; i < sweepEvery; i++ {
		st := s.Store("churn")
		require.NoError(t, st.SetTokens(ctx, model.TokenPair{Access: "a"}))
	}
	require.Equal(t, 1, s.Len(), "sweep drops unread expired entries")
}
