// Package oauth runs the authorization-code flow with PKCE against Google, Facebook and Apple.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// Provider names.
const (
	Google   = "google"
	Facebook = "facebook"
	Apple    = "apple"
)

// CallbackPath is where providers redirect back to, followed by the provider name.
const CallbackPath = "/api/auth/callback/"

var (
	defaultGoogle = Endpoints{
		AuthURL:    endpoints.Google.AuthURL,
		TokenURL:   endpoints.Google.TokenURL,
		ProfileURL: "https://openidconnect.googleapis.com/v1/userinfo",
	}
	defaultFacebook = Endpoints{
		AuthURL:    endpoints.Facebook.AuthURL,
		TokenURL:   endpoints.Facebook.TokenURL,
		ProfileURL: "https://graph.facebook.com/me?fields=id,name,email,picture.type(large)",
	}
	defaultApple = Endpoints{
		AuthURL:  "https://appleid.apple.com/auth/authorize",
		TokenURL: "https://appleid.apple.com/auth/token",
	}
)

// Profile is the identity a provider vouches for.
type Profile struct {
	Provider          string
	ProviderAccountID string
	Email             string
	Name              string
	Picture           string
}

// Provider is one configured identity provider.
type Provider struct {
	name       string
	conf       oauth2.Config
	profileURL string
	authParams []oauth2.AuthCodeOption
	secret     func() (string, error) // nil means conf.ClientSecret is static
	profile    func(ctx context.Context, p *Provider, tok *oauth2.Token) (Profile, error)
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.name }

// AuthCodeURL is the consent page for state, bound to verifier by an S256 challenge.
func (p *Provider) AuthCodeURL(state, verifier string) string {
	opts := append([]oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}, p.authParams...)
	return p.conf.AuthCodeURL(state, opts...)
}

// Exchange trades code for provider tokens.
func (p *Provider) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	conf := p.conf
	if p.secret != nil {
		s, err := p.secret()
		if err != nil {
			return nil, fmt.Errorf("%s client secret: %w", p.name, err)
		}
		conf.ClientSecret = s
	}
	tok, err := conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("%s exchange: %w", p.name, err)
	}
	return tok, nil
}

// Profile loads the signed-in identity.
func (p *Provider) Profile(ctx context.Context, tok *oauth2.Token) (Profile, error) {
	prof, err := p.profile(ctx, p, tok)
	if err != nil {
		return Profile{}, fmt.Errorf("%s profile: %w", p.name, err)
	}
	if prof.ProviderAccountID == "" {
		return Profile{}, fmt.Errorf("%s profile: missing account id", p.name)
	}
	prof.Provider = p.name
	return prof, nil
}

func (p *Provider) getJSON(ctx context.Context, tok *oauth2.Token, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.profileURL, nil)
	if err != nil {
		return err
	}
	resp, err := p.conf.Client(ctx, tok).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func googleProfile(ctx context.Context, p *Provider, tok *oauth2.Token) (Profile, error) {
	var u struct {
		Sub     string `json:"sub"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := p.getJSON(ctx, tok, &u); err != nil {
		return Profile{}, err
	}
	return Profile{ProviderAccountID: u.Sub, Email: u.Email, Name: u.Name, Picture: u.Picture}, nil
}

func facebookProfile(ctx context.Context, p *Provider, tok *oauth2.Token) (Profile, error) {
	var u struct {
		ID      string `json:"id"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture struct {
			Data struct {
				URL string `json:"url"`
			} `json:"data"`
		} `json:"picture"`
	}
	if err := p.getJSON(ctx, tok, &u); err != nil {
		return Profile{}, err
	}
	return Profile{ProviderAccountID: u.ID, Email: u.Email, Name: u.Name, Picture: u.Picture.Data.URL}, nil
}

// appleProfile reads the id_token returned by the token endpoint. It arrives over
// the TLS back channel from Apple, so its signature is not re-verified here.
func appleProfile(_ context.Context, _ *Provider, tok *oauth2.Token) (Profile, error) {
	raw, _ := tok.Extra("id_token").(string)
	if raw == "" {
		return Profile{}, errors.New("no id_token")
	}
	var claims struct {
		jwt.RegisteredClaims
		Email string `json:"email"`
	}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return Profile{}, fmt.Errorf("parse id_token: %w", err)
	}
	return Profile{ProviderAccountID: claims.Subject, Email: claims.Email}, nil
}

// appleSecret mints the ES256 client secret Apple expects instead of a static one.
func appleSecret(c Config, now func() time.Time) (func() (string, error), error) {
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(c.ApplePrivateKey))
	if err != nil {
		return nil, fmt.Errorf("apple private key: %w", err)
	}
	return func() (string, error) {
		t := now()
		tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.RegisteredClaims{
			Issuer:    c.AppleTeamID,
			Subject:   c.AppleClientID,
			Audience:  jwt.ClaimStrings{"https://appleid.apple.com"},
			IssuedAt:  jwt.NewNumericDate(t),
			ExpiresAt: jwt.NewNumericDate(t.Add(5 * time.Minute)),
		})
		tok.Header["kid"] = c.AppleKeyID
		return tok.SignedString(key)
	}, nil
}

// Registry holds the enabled providers.
type Registry struct {
	providers map[string]*Provider
}

// NewRegistry enables every provider with a client id. Redirect URLs hang off publicURL.
func NewRegistry(c Config, publicURL string) (*Registry, error) {
	base := strings.TrimRight(publicURL, "/") + CallbackPath
	r := &Registry{providers: map[string]*Provider{}}

	if c.GoogleClientID != "" {
		e := c.GoogleEndpoints.or(defaultGoogle)
		r.providers[Google] = &Provider{
			name: Google,
			conf: oauth2.Config{
				ClientID:     c.GoogleClientID,
				ClientSecret: c.GoogleClientSecret,
				Endpoint:     oauth2.Endpoint{AuthURL: e.AuthURL, TokenURL: e.TokenURL, AuthStyle: oauth2.AuthStyleInParams},
				RedirectURL:  base + Google,
				Scopes:       []string{"openid", "email", "profile"},
			},
			profileURL: e.ProfileURL,
			profile:    googleProfile,
		}
	}
	if c.FacebookClientID != "" {
		e := c.FacebookEndpoints.or(defaultFacebook)
		r.providers[Facebook] = &Provider{
			name: Facebook,
			conf: oauth2.Config{
				ClientID:     c.FacebookClientID,
				ClientSecret: c.FacebookClientSecret,
				Endpoint:     oauth2.Endpoint{AuthURL: e.AuthURL, TokenURL: e.TokenURL, AuthStyle: oauth2.AuthStyleInParams},
				RedirectURL:  base + Facebook,
				Scopes:       []string{"email", "public_profile"},
			},
			profileURL: e.ProfileURL,
			profile:    facebookProfile,
		}
	}
	if c.AppleClientID != "" {
		e := c.AppleEndpoints.or(defaultApple)
		p := &Provider{
			name: Apple,
			conf: oauth2.Config{
				ClientID:     c.AppleClientID,
				ClientSecret: c.AppleClientSecret,
				Endpoint:     oauth2.Endpoint{AuthURL: e.AuthURL, TokenURL: e.TokenURL, AuthStyle: oauth2.AuthStyleInParams},
				RedirectURL:  base + Apple,
				Scopes:       []string{"name", "email"},
			},
			// name/email scopes require the callback as a form POST.
			authParams: []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("response_mode", "form_post")},
			profile:    appleProfile,
		}
		if c.AppleClientSecret == "" && c.ApplePrivateKey != "" {
			fn, err := appleSecret(c, time.Now)
			if err != nil {
				return nil, err
			}
			p.secret = fn
		}
		r.providers[Apple] = p
	}
	return r, nil
}

// Get returns an enabled provider.
func (r *Registry) Get(name string) (*Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Enabled lists enabled provider names, sorted.
func (r *Registry) Enabled() []string {
	out := make([]string, 0, len(r.providers))
	for n := range r.providers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Origins lists the authorize and token origins, for the content security policy.
func (r *Registry) Origins() []string {
	seen := map[string]bool{}
	var out []string
	for _, n := range r.Enabled() {
		p := r.providers[n]
		for _, u := range []string{p.conf.Endpoint.AuthURL, p.conf.Endpoint.TokenURL} {
			if o := origin(u); o != "" && !seen[o] {
				seen[o] = true
				out = append(out, o)
			}
		}
	}
	return out
}
