package httpserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/and161185/nomadrise/internal/backend"
	"github.com/and161185/nomadrise/internal/errs"
	"github.com/and161185/nomadrise/internal/model"
	"github.com/and161185/nomadrise/internal/session"
)

// me returns the backend user behind the session. Credentials sessions call
// /users/me/ with their stored tokens; provider sessions resolve the synced identity.
func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	c, ok := SessionFromCtx(r.Context())
	if !ok {
		s.writeError(w, r, errs.ErrUnauthorized)
		return
	}
	if c.Provider != session.ProviderCredentials {
		res, err := s.api.Auth.UserByProvider(r.Context(), c.Provider, c.ProviderAccountID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if res == nil {
			s.writeError(w, r, errs.ErrNotFound)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}
	u, err := s.userAPI(c.ID).Users.Me(r.Context())
	if err != nil {
		s.sessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) updateMe(w http.ResponseWriter, r *http.Request) {
	c, ok := SessionFromCtx(r.Context())
	if !ok || c.Provider != session.ProviderCredentials || c.BackendUserID == 0 {
		s.writeError(w, r, errs.ErrUnauthorized)
		return
	}
	var p model.ProfileUpdate
	if err := decodeJSON(w, r, &p); err != nil {
		s.writeError(w, r, errs.ErrValidation)
		return
	}
	u, err := s.userAPI(c.ID).Users.UpdateProfile(r.Context(), c.BackendUserID, p)
	if err != nil {
		s.sessionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// sessionError drops the cookie once the token pair is gone.
func (s *Server) sessionError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errs.ErrSessionExpired) {
		s.Sessions.ClearCookie(w)
	}
	s.writeError(w, r, err)
}

func (s *Server) listScholarships(w http.ResponseWriter, r *http.Request) {
	out, err := s.api.Scholarships.List(r.Context(), backend.ParseFilter(r.URL.Query()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getScholarship(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, r, errs.ErrNotFound)
		return
	}
	out, err := s.api.Scholarships.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func listHandler[T any](s *Server, res *backend.Resource[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := res.List(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Server) listContents(w http.ResponseWriter, r *http.Request) {
	listHandler(s, s.api.Contents)(w, r)
}

func (s *Server) listOrganizations(w http.ResponseWriter, r *http.Request) {
	listHandler(s, s.api.Organizations)(w, r)
}

func (s *Server) listSponsors(w http.ResponseWriter, r *http.Request) {
	listHandler(s, s.api.Sponsors)(w, r)
}
