package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// pageView describes a localized page for the front-end renderer.
type pageView struct {
	Page   string       `json:"page"`
	Locale string       `json:"locale"`
	User   *sessionUser `json:"user,omitempty"`
}

func (s *Server) page(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loc := chi.URLParam(r, "locale")
		if !isLocale(loc) {
			http.NotFound(w, r)
			return
		}
		v := pageView{Page: name, Locale: loc}
		if c, ok := SessionFromCtx(r.Context()); ok {
			v.User = &sessionUser{
				ID:       c.Subject,
				Email:    c.Email,
				Name:     c.Name,
				Image:    c.Picture,
				Provider: c.Provider,
			}
		}
		writeJSON(w, http.StatusOK, v)
	}
}

// dashboard is guarded by LocaleRedirect; this check covers direct router use.
func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	if _, ok := SessionFromCtx(r.Context()); !ok {
		http.Redirect(w, r, "/"+detectLocale(r)+"/login", http.StatusTemporaryRedirect)
		return
	}
	s.page("dashboard")(w, r)
}
