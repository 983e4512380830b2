// Package tokenstore persists the backend access/refresh token pair.
//
// Getters never fail: storage that cannot be read is reported as empty.
package tokenstore

import (
	"context"
	"sync"

	"github.com/and161185/nomadrise/internal/model"
)

// Storage keys shared by all implementations.
const (
	KeyAccess  = "access_token"
	KeyRefresh = "refresh_token"
)

// Store reads and writes one token pair.
type Store interface {
	// AccessToken returns the bearer credential, if any.
	AccessToken(ctx context.Context) (string, bool)
	// RefreshToken returns the credential used to mint access tokens, if any.
	RefreshToken(ctx context.Context) (string, bool)
	// SetTokens replaces both tokens at once.
	SetTokens(ctx context.Context, p model.TokenPair) error
	// ClearTokens removes both tokens. Clearing an empty store is not an error.
	ClearTokens(ctx context.Context) error
}

// Memory is an in-process Store.
type Memory struct {
	mu   sync.RWMutex
	pair model.TokenPair
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory { return &Memory{} }

// AccessToken implements Store.
func (m *Memory) AccessToken(context.Context) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pair.Access, m.pair.Access != ""
}

// RefreshToken implements Store.
func (m *Memory) RefreshToken(context.Context) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pair.Refresh, m.pair.Refresh != ""
}

// SetTokens implements Store.
func (m *Memory) SetTokens(_ context.Context, p model.TokenPair) error {
	m.mu.Lock()
	m.pair = p
	m.mu.Unlock()
	return nil
}

// ClearTokens implements Store.
func (m *Memory) ClearTokens(context.Context) error {
	m.mu.Lock()
	m.pair = model.TokenPair{}
	m.mu.Unlock()
	return nil
}

// Pair returns a consistent snapshot of both tokens.
func (m *Memory) Pair() model.TokenPair {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pair
}
