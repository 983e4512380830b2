// Package session issues and verifies the signed web session carried in a cookie.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/and161185/nomadrise/internal/errs"
	"github.com/and161185/nomadrise/internal/model"
)

// CookieName is the session cookie.
const CookieName = "nomadrise_session"

// ProviderCredentials marks sessions created by email/password login.
const ProviderCredentials = "credentials"

// Claims is the session payload. ID (jti) doubles as the server-side session key.
type Claims struct {
	jwt.RegisteredClaims
	Provider          string `json:"provider,omitempty"`
	ProviderAccountID string `json:"provider_account_id,omitempty"`
	BackendUserID     int64  `json:"backend_user_id,omitempty"`
	Email             string `json:"email,omitempty"`
	Name              string `json:"name,omitempty"`
	Picture           string `json:"picture,omitempty"`
}

// Identity returns the provider view of the session.
func (c *Claims) Identity() model.Identity {
	return model.Identity{
		Provider:          c.Provider,
		ProviderAccountID: c.ProviderAccountID,
		BackendUserID:     c.BackendUserID,
	}
}

// Manager signs sessions with HS256.
type Manager struct {
	key    []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

// NewManager constructs a Manager. secure sets the cookie Secure flag.
func NewManager(key []byte, ttl time.Duration, secure bool) *Manager {
	return &Manager{key: key, ttl: ttl, secure: secure, now: time.Now}
}

// Issue fills the registered claims and signs c. A missing ID gets a fresh uuid.
func (m *Manager) Issue(c *Claims) (string, time.Time, error) {
	now := m.now()
	exp := now.Add(m.ttl)
	if c.ID == "" {
		id, err := uuid.NewV4()
		if err != nil {
			return "", time.Time{}, err
		}
		c.ID = id.String()
	}
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(exp)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.key)
	return signed, exp, err
}

// Parse verifies the signature and time claims (30s leeway).
func (m *Manager) Parse(tok string) (*Claims, error) {
	var c Claims
	parsed, err := jwt.ParseWithClaims(tok, &c, func(t *jwt.Token) (any, error) {
		return m.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30*time.Second),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: invalid session", errs.ErrUnauthorized)
	}
	if c.ID == "" {
		return nil, fmt.Errorf("%w: session without id", errs.ErrUnauthorized)
	}
	return &c, nil
}

// SetCookie writes the session cookie.
func (m *Manager) SetCookie(w http.ResponseWriter, tok string, exp time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    tok,
		Path:     "/",
		Expires:  exp,
		MaxAge:   int(time.Until(exp).Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie.
func (m *Manager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// FromRequest reads the session from the cookie, falling back to a bearer header.
func (m *Manager) FromRequest(r *http.Request) (*Claims, error) {
	if ck, err := r.Cookie(CookieName); err == nil && ck.Value != "" {
		return m.Parse(ck.Value)
	}
	tok, err := bearerToken(r.Header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrUnauthorized, err)
	}
	return m.Parse(tok)
}

func bearerToken(h http.Header) (string, error) {
	for _, v := range h.Values("Authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no session")
}
