package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/and161185/nomadrise/internal/errs"
	"github.com/and161185/nomadrise/internal/model"
	"github.com/and161185/nomadrise/internal/session"
)

func (s *Server) signIn(w http.ResponseWriter, r *http.Request) {
	if s.Flow == nil {
		s.writeError(w, r, errs.ErrNotFound)
		return
	}
	loc, err := s.Flow.Begin(w, chi.URLParam(r, "provider"), r.URL.Query().Get("callbackUrl"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	http.Redirect(w, r, loc, http.StatusFound)
}

// callback finishes a provider sign-in. Backend linking is best effort.
func (s *Server) callback(w http.ResponseWriter, r *http.Request) {
	if s.Flow == nil {
		s.writeError(w, r, errs.ErrNotFound)
		return
	}
	provider := chi.URLParam(r, "provider")
	prof, callbackURL, err := s.Flow.Complete(w, r, provider)
	if err != nil {
		s.log.Warn("oauth callback rejected", zap.String("provider", provider), zap.Error(err))
		http.Redirect(w, r, "/"+detectLocale(r)+"/login?error=OAuthCallback", http.StatusFound)
		return
	}

	c := &session.Claims{
		Provider:          prof.Provider,
		ProviderAccountID: prof.ProviderAccountID,
		Email:             prof.Email,
		Name:              prof.Name,
		Picture:           prof.Picture,
	}
	c.Subject = prof.Provider + ":" + prof.ProviderAccountID
	if s.Bridge != nil {
		s.Bridge.Link(r.Context(), c)
	}
	if err := s.issue(w, c); err != nil {
		s.writeError(w, r, err)
		return
	}
	if callbackURL == "" {
		callbackURL = "/" + detectLocale(r) + "/dashboard"
	}
	http.Redirect(w, r, callbackURL, http.StatusFound)
}

func (s *Server) issue(w http.ResponseWriter, c *session.Claims) error {
	tok, exp, err := s.Sessions.Issue(c)
	if err != nil {
		return err
	}
	s.Sessions.SetCookie(w, tok, exp)
	return nil
}

func (s *Server) signOut(w http.ResponseWriter, r *http.Request) {
	if c, ok := SessionFromCtx(r.Context()); ok {
		if err := s.Auth.Logout(r.Context(), c.ID); err != nil {
			s.log.Warn("drop session tokens", zap.Error(err))
		}
	}
	s.Sessions.ClearCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"url": "/" + detectLocale(r) + "/login"})
}

type sessionUser struct {
	ID                string `json:"id"`
	Email             string `json:"email,omitempty"`
	Name              string `json:"name,omitempty"`
	Image             string `json:"image,omitempty"`
	Provider          string `json:"provider"`
	ProviderAccountID string `json:"providerAccountId,omitempty"`
	BackendUserID     int64  `json:"backendUserId,omitempty"`
}

type sessionView struct {
	User    sessionUser `json:"user"`
	Expires string      `json:"expires"`
}

// sessionInfo answers {} for anonymous visitors.
func (s *Server) sessionInfo(w http.ResponseWriter, r *http.Request) {
	c, ok := SessionFromCtx(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	v := sessionView{User: sessionUser{
		ID:                c.Subject,
		Email:             c.Email,
		Name:              c.Name,
		Image:             c.Picture,
		Provider:          c.Provider,
		ProviderAccountID: c.ProviderAccountID,
		BackendUserID:     c.BackendUserID,
	}}
	if c.ExpiresAt != nil {
		v.Expires = c.ExpiresAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) providers(w http.ResponseWriter, _ *http.Request) {
	names := []string{}
	if s.Flow != nil {
		names = s.Flow.Registry().Enabled()
	}
	writeJSON(w, http.StatusOK, map[string][]string{"providers": names})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var in model.EmailLogin
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, errs.ErrValidation)
		return
	}
	l, err := s.Auth.LoginWithIP(r.Context(), in.Email, in.Password, clientIP(r, s.TrustedProxies))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.startCredentialsSession(w, l.SessionID, l.User); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "user": l.User})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var in model.RegisterRequest
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, errs.ErrValidation)
		return
	}
	l, out, err := s.Auth.Register(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if l.SessionID != "" {
		if err := s.startCredentialsSession(w, l.SessionID, l.User); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"ok":       true,
		"signedIn": l.SessionID != "",
		"user":     out.User,
		"message":  out.Message,
	})
}

// startCredentialsSession issues a session whose id keys the stored token pair.
func (s *Server) startCredentialsSession(w http.ResponseWriter, sid string, u model.LoginUser) error {
	c := &session.Claims{
		Provider:      session.ProviderCredentials,
		BackendUserID: u.ID,
		Email:         u.Email,
		Name:          fullName(u),
	}
	c.ID = sid
	c.Subject = session.ProviderCredentials + ":" + u.Email
	return s.issue(w, c)
}

func fullName(u model.LoginUser) string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Username
	}
}
