package tokenstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/nomadrise/internal/model"
)

type tokenFile struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"` // access token expiry (for diagnostics)
}

// File is a Store backed by a JSON file, used by the CLI.
type File struct {
	mu   sync.Mutex
	path string
}

var _ Store = (*File)(nil)

// NewFile returns a file store at path. The file is created on first write.
func NewFile(path string) *File { return &File{path: path} }

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

func (f *File) load() (tokenFile, bool) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		return tokenFile{}, false
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return tokenFile{}, false
	}
	return tf, true
}

// AccessToken implements Store.
func (f *File) AccessToken(context.Context) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tf, _ := f.load()
	return tf.AccessToken, tf.AccessToken != ""
}

// RefreshToken implements Store.
func (f *File) RefreshToken(context.Context) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tf, _ := f.load()
	return tf.RefreshToken, tf.RefreshToken != ""
}

// ExpiresAt returns the stored access token expiry, zero if unknown.
func (f *File) ExpiresAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	tf, _ := f.load()
	return tf.ExpiresAt
}

// SetTokens writes both tokens through a temp file and rename.
func (f *File) SetTokens(_ context.Context, p model.TokenPair) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".token-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	tf := tokenFile{AccessToken: p.Access, RefreshToken: p.Refresh, ExpiresAt: AccessExpiry(p.Access)}
	if err := enc.Encode(tf); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, f.path)
}

// ClearTokens removes the file.
func (f *File) ClearTokens(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// AccessExpiry reads the exp claim without verifying the signature. Zero if absent.
func AccessExpiry(access string) time.Time {
	if access == "" {
		return time.Time{}
	}
	var claims jwt.RegisteredClaims
	_, _, err := jwt.NewParser().ParseUnverified(access, &claims)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
