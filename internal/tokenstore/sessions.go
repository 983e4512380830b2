package tokenstore

import (
	"context"
	"sync"
	"time"

	"github.com/and161185/nomadrise/internal/model"
)

// Sessions hands out one Store per web session id.
type Sessions interface {
	Store(id string) Store
}

var (
	_ Sessions = (*RedisSessions)(nil)
	_ Sessions = (*MemorySessions)(nil)
	_ Store    = memSession{}
)

// sweepEvery is how many writes pass between scans for expired entries.
const sweepEvery = 64

type memEntry struct {
	pair    model.TokenPair
	expires time.Time // zero: never
}

// MemorySessions keeps per-session pairs in process. Used when no Redis URL is configured.
//
// An entry exists only between SetTokens and ClearTokens (or its TTL), so reads
// for unknown ids and failed logins leave nothing behind.
type MemorySessions struct {
	mu     sync.Mutex
	m      map[string]memEntry
	ttl    time.Duration
	writes int
	now    func() time.Time
}

// NewMemorySessions returns an empty session map. ttl <= 0 keeps pairs until cleared.
func NewMemorySessions(ttl time.Duration) *MemorySessions {
	return &MemorySessions{m: make(map[string]memEntry), ttl: ttl, now: time.Now}
}

// Store returns a handle for id. It allocates nothing until tokens are set.
func (s *MemorySessions) Store(id string) Store { return memSession{s: s, id: id} }

// Len reports the number of live entries.
func (s *MemorySessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

func (s *MemorySessions) get(id string) (model.TokenPair, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[id]
	if !ok {
		return model.TokenPair{}, false
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		delete(s.m, id)
		return model.TokenPair{}, false
	}
	return e.pair, true
}

func (s *MemorySessions) set(id string, p model.TokenPair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Access == "" && p.Refresh == "" {
		delete(s.m, id)
		return
	}
	e := memEntry{pair: p}
	now := s.now()
	if s.ttl > 0 {
		e.expires = now.Add(s.ttl)
	}
	s.m[id] = e

	s.writes++
	if s.writes%sweepEvery == 0 {
		for k, v := range s.m {
			if !v.expires.IsZero() && !now.Before(v.expires) {
				delete(s.m, k)
			}
		}
	}
}

func (s *MemorySessions) drop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
}

type memSession struct {
	s  *MemorySessions
	id string
}

func (m memSession) AccessToken(context.Context) (string, bool) {
	p, _ := m.s.get(m.id)
	return p.Access, p.Access != ""
}

func (m memSession) RefreshToken(context.Context) (string, bool) {
	p, _ := m.s.get(m.id)
	return p.Refresh, p.Refresh != ""
}

func (m memSession) SetTokens(_ context.Context, p model.TokenPair) error {
	m.s.set(m.id, p)
	return nil
}

func (m memSession) ClearTokens(context.Context) error {
	m.s.drop(m.id)
	return nil
}
