// Package httpserver is the nomadrise web front end: sessions, OAuth sign-in,
// locale routing, data-deletion intake and page-facing API proxies.
package httpserver

import (
	"context"
	"net/http"
	"net/netip"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/and161185/nomadrise/internal/backend"
	"github.com/and161185/nomadrise/internal/gateway"
	"github.com/and161185/nomadrise/internal/metrics"
	"github.com/and161185/nomadrise/internal/oauth"
	"github.com/and161185/nomadrise/internal/oauthsync"
	"github.com/and161185/nomadrise/internal/refresh"
	"github.com/and161185/nomadrise/internal/service"
	"github.com/and161185/nomadrise/internal/session"
	"github.com/and161185/nomadrise/internal/tokenstore"
)

// Deps are the collaborators of the web server. Flow may be nil when no provider is configured.
type Deps struct {
	Log            *zap.Logger
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	Sessions       *session.Manager
	Flow           *oauth.Flow
	Bridge         *oauthsync.Bridge
	Auth           *service.AuthService
	Deletions      *service.DeletionService
	Public         *gateway.Public
	Tokens         tokenstore.Sessions
	RefreshTimeout time.Duration
	// TrustedProxies are the peers allowed to set X-Forwarded-For.
	TrustedProxies []netip.Prefix
	// Ready reports dependencies (database, token store) for /healthz.
	Ready func(ctx context.Context) error
}

// Server holds handler state.
type Server struct {
	Deps
	log     *zap.Logger
	api     *backend.API // public reads only
	flights singleflight.Group
	ready   atomic.Bool
}

// New builds a Server. It starts not ready; call SetReady once startup finishes.
func New(d Deps) *Server {
	s := &Server{Deps: d, log: d.Log}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.api = backend.New(d.Public, d.Public, tokenstore.NewMemory())
	return s
}

// SetReady flips the readiness flag served by /healthz.
func (s *Server) SetReady(v bool) { s.ready.Store(v) }

// Handler assembles the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	var origins []string
	if s.Flow != nil {
		origins = s.Flow.Registry().Origins()
	}
	if o := originOf(s.Public.BaseURL()); o != "" {
		origins = append(origins, o)
	}

	r.Use(
		Recover(s.log),
		Logging(s.log, s.Metrics),
		SecurityHeaders(origins...),
		LoadSession(s.Sessions),
		LocaleRedirect(),
	)

	r.Get("/livez", s.livez)
	r.Get("/healthz", s.healthz)
	gatherer := s.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/auth/signin/{provider}", s.signIn)
		r.Get("/auth/callback/{provider}", s.callback)
		r.Post("/auth/callback/{provider}", s.callback)
		r.Post("/auth/signout", s.signOut)
		r.Get("/auth/session", s.sessionInfo)
		r.Get("/auth/providers", s.providers)
		r.Post("/auth/login", s.login)
		r.Post("/auth/register", s.register)

		r.Get("/me", s.me)
		r.Patch("/me", s.updateMe)

		r.Get("/scholarships", s.listScholarships)
		r.Get("/scholarships/{id}", s.getScholarship)
		r.Get("/contents", s.listContents)
		r.Get("/organizations", s.listOrganizations)
		r.Get("/sponsors", s.listSponsors)

		r.HandleFunc("/data-deletion", s.dataDeletion)
	})

	r.Route("/{locale}", func(r chi.Router) {
		r.Get("/", s.page("home"))
		r.Get("/login", s.page("login"))
		r.Get("/scholarships", s.page("scholarships"))
		r.Get("/dashboard", s.dashboard)
		r.Get("/data-deletion", s.page("data-deletion"))
	})
	return r
}

// userAPI is the backend client bound to one session's tokens.
// All coordinators share one flight group keyed by session id, so one session refreshes once.
func (s *Server) userAPI(sid string) *backend.API {
	store := s.Tokens.Store(sid)
	opts := []refresh.Option{
		refresh.WithGroup(&s.flights, sid),
		refresh.WithLogger(s.log),
		refresh.WithMetrics(s.Metrics),
		refresh.WithLogout(func(context.Context) {
			s.log.Info("session tokens dropped after failed refresh", zap.String("session", sid))
		}),
	}
	if s.RefreshTimeout > 0 {
		opts = append(opts, refresh.WithTimeout(s.RefreshTimeout))
	}
	coord := refresh.New(s.Public, store, opts...)
	return backend.New(s.Public, gateway.NewAuthed(s.Public, store, coord), store)
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
