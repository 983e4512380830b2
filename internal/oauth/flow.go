package oauth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"golang.org/x/oauth2"

	"github.com/and161185/nomadrise/internal/crypto/seal"
	"github.com/and161185/nomadrise/internal/errs"
)

const (
	// StateCookie carries the sealed flow state between sign-in and callback.
	StateCookie = "nomadrise_oauth_state"
	// StateTTL bounds how long a user may stay on the consent page.
	StateTTL = 10 * time.Minute
	// SealPurpose separates the state key from other keys derived from the session secret.
	SealPurpose = "nomadrise oauth state"
)

// ErrState covers a missing, forged, expired or mismatched state cookie.
var ErrState = fmt.Errorf("%w: oauth state", errs.ErrUnauthorized)

type flowState struct {
	State       string `json:"state"`
	Verifier    string `json:"verifier"`
	Provider    string `json:"provider"`
	CallbackURL string `json:"callbackUrl"`
	Expires     int64  `json:"exp"`
}

// Flow starts and completes provider sign-ins. It keeps no server-side state.
type Flow struct {
	reg       *Registry
	sealer    *seal.Sealer
	publicURL string
	secure    bool
	now       func() time.Time
}

// NewFlow derives the state key from secret.
func NewFlow(reg *Registry, secret []byte, publicURL string, secure bool) (*Flow, error) {
	s, err := seal.New(secret, SealPurpose)
	if err != nil {
		return nil, err
	}
	return &Flow{reg: reg, sealer: s, publicURL: publicURL, secure: secure, now: time.Now}, nil
}

// Registry returns the providers the flow serves.
func (f *Flow) Registry() *Registry { return f.reg }

// Begin sets the state cookie and returns the provider consent URL.
// An unknown or disabled provider is errs.ErrNotFound.
func (f *Flow) Begin(w http.ResponseWriter, provider, callbackURL string) (string, error) {
	p, ok := f.reg.Get(provider)
	if !ok {
		return "", fmt.Errorf("provider %q: %w", provider, errs.ErrNotFound)
	}
	state, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	st := flowState{
		State:       state.String(),
		Verifier:    oauth2.GenerateVerifier(),
		Provider:    provider,
		CallbackURL: SafeCallback(callbackURL, f.publicURL),
		Expires:     f.now().Add(StateTTL).Unix(),
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return "", err
	}
	sealed, err := f.sealer.SealString(raw, []byte(provider))
	if err != nil {
		return "", err
	}
	http.SetCookie(w, f.stateCookie(sealed, int(StateTTL/time.Second)))
	return p.AuthCodeURL(st.State, st.Verifier), nil
}

// Complete validates the callback, exchanges the code and loads the profile.
// It returns the callback URL recorded by Begin, possibly empty.
func (f *Flow) Complete(w http.ResponseWriter, r *http.Request, provider string) (Profile, string, error) {
	p, ok := f.reg.Get(provider)
	if !ok {
		return Profile{}, "", fmt.Errorf("provider %q: %w", provider, errs.ErrNotFound)
	}
	c, err := r.Cookie(StateCookie)
	http.SetCookie(w, f.stateCookie("", -1))
	if err != nil {
		return Profile{}, "", ErrState
	}
	raw, err := f.sealer.OpenString(c.Value, []byte(provider))
	if err != nil {
		return Profile{}, "", ErrState
	}
	var st flowState
	if err := json.Unmarshal(raw, &st); err != nil {
		return Profile{}, "", ErrState
	}
	if st.Provider != provider || st.State != r.FormValue("state") || f.now().Unix() > st.Expires {
		return Profile{}, "", ErrState
	}
	if e := r.FormValue("error"); e != "" {
		return Profile{}, "", fmt.Errorf("%w: provider returned %s", errs.ErrUnauthorized, e)
	}
	code := r.FormValue("code")
	if code == "" {
		return Profile{}, "", fmt.Errorf("%w: missing code", errs.ErrValidation)
	}

	tok, err := p.Exchange(r.Context(), code, st.Verifier)
	if err != nil {
		return Profile{}, "", err
	}
	prof, err := p.Profile(r.Context(), tok)
	if err != nil {
		return Profile{}, "", err
	}
	return prof, st.CallbackURL, nil
}

// stateCookie must survive Apple's cross-site form POST, so it is SameSite=None when secure.
func (f *Flow) stateCookie(v string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     StateCookie,
		Value:    v,
		Path:     "/api/auth",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   f.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if f.secure {
		c.SameSite = http.SameSiteNoneMode
	}
	return c
}

// SafeCallback keeps same-site redirect targets and drops everything else.
// The result is a path (with query) or empty.
func SafeCallback(raw, publicURL string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if u.IsAbs() || u.Host != "" {
		if origin(raw) != origin(publicURL) {
			return ""
		}
	}
	if !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(u.Path, "//") || strings.Contains(raw, `\`) {
		return ""
	}
	out := u.Path
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out
}

func origin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
