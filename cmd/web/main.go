// Command nomadrise-web serves the nomadrise web front end.
//
// Usage:
//
//	nomadrise-web [--config path]                       run the server
//	nomadrise-web [--config path] deletions list        print pending data-deletion requests
//	nomadrise-web [--config path] deletions complete ID mark a request processed
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/and161185/nomadrise/internal/backend"
	"github.com/and161185/nomadrise/internal/config"
	"github.com/and161185/nomadrise/internal/crypto/seal"
	"github.com/and161185/nomadrise/internal/gateway"
	"github.com/and161185/nomadrise/internal/limiter"
	"github.com/and161185/nomadrise/internal/metrics"
	"github.com/and161185/nomadrise/internal/migrate"
	"github.com/and161185/nomadrise/internal/oauth"
	"github.com/and161185/nomadrise/internal/oauthsync"
	"github.com/and161185/nomadrise/internal/repository/postgres"
	httpserver "github.com/and161185/nomadrise/internal/server/http"
	"github.com/and161185/nomadrise/internal/service"
	"github.com/and161185/nomadrise/internal/session"
	"github.com/and161185/nomadrise/internal/tokenstore"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const sessionKeyPurpose = "nomadrise session"

func main() {
	cfgPath := flag.String("config", "", "path to YAML config (overrides CONFIG_PATH)")
	flag.Parse()

	cfg := config.MustLoad(*cfgPath)
	logger := newLogger(cfg.Env)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch args := flag.Args(); {
	case len(args) == 0:
		err = serve(ctx, cfg, logger)
	case args[0] == "deletions":
		err = deletions(ctx, cfg, logger, args[1:])
	default:
		err = fmt.Errorf("unknown command %q", args[0])
	}
	if err != nil {
		logger.Fatal("exit", zap.Error(err))
	}
}

func newLogger(env string) *zap.Logger {
	var l *zap.Logger
	var err error
	if env == config.EnvLocal {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return l.With(zap.String("env", env))
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.HTTP.Addr()),
	)

	if err := migrate.Up(ctx, cfg.Postgres.DSN, logger.Named("migrate")); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	db, err := postgres.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	tokens, pingTokens, closeTokens, err := tokenSessions(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeTokens()

	pub := gateway.NewPublic(cfg.Backend.BaseURL,
		gateway.WithTimeout(cfg.Backend.Timeout),
		gateway.WithLogger(logger.Named("backend")),
		gateway.WithMetrics(m),
	)

	secret := []byte(cfg.Session.Secret)
	sessKey, err := seal.DeriveKey(secret, sessionKeyPurpose)
	if err != nil {
		return err
	}
	sessions := session.NewManager(sessKey, cfg.Session.TTL, cfg.Session.Secure)

	flow, err := oauthFlow(cfg, secret, logger)
	if err != nil {
		return err
	}

	proxies, err := cfg.HTTP.Proxies()
	if err != nil {
		return err
	}

	lim := limiter.NewPG(db.Pool, cfg.Limiter.Window, cfg.Limiter.MaxFails, cfg.Limiter.BlockFor)
	bridge := oauthsync.New(backend.NewAuth(pub, tokenstore.NewMemory()),
		oauthsync.WithPolicy(oauthsync.Policy{
			MaxAttempts: cfg.Sync.MaxAttempts,
			BaseDelay:   cfg.Sync.BaseDelay,
			Multiplier:  cfg.Sync.Multiplier,
		}),
		oauthsync.WithLogger(logger.Named("oauthsync")),
		oauthsync.WithMetrics(m),
	)

	srv := httpserver.New(httpserver.Deps{
		Log:            logger.Named("http"),
		Metrics:        m,
		Gatherer:       reg,
		Sessions:       sessions,
		Flow:           flow,
		Bridge:         bridge,
		Auth:           service.NewAuthService(pub, tokens, lim, logger.Named("auth")),
		Deletions:      service.NewDeletionService(postgres.NewDeletionRepo(db), logger.Named("deletion")),
		Public:         pub,
		Tokens:         tokens,
		RefreshTimeout: cfg.Backend.RefreshTimeout,
		TrustedProxies: proxies,
		Ready: func(ctx context.Context) error {
			return errors.Join(db.Ping(ctx), pingTokens(ctx))
		},
	})

	hs := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", hs.Addr))
		errCh <- hs.ListenAndServe()
	}()
	srv.SetReady(true)

	select {
	case <-ctx.Done():
		srv.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forced shutdown", zap.Error(err))
			_ = hs.Close()
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

// tokenSessions picks Redis when configured and process memory otherwise.
func tokenSessions(ctx context.Context, cfg *config.Config, logger *zap.Logger) (tokenstore.Sessions, func(context.Context) error, func(), error) {
	if cfg.Redis.URL == "" {
		logger.Warn("REDIS_URL not set; session tokens live in process memory")
		return tokenstore.NewMemorySessions(cfg.Redis.TokenTTL), func(context.Context) error { return nil }, func() {}, nil
	}
	rdb, err := tokenstore.Dial(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, nil, nil, err
	}
	rs := tokenstore.NewRedisSessions(rdb, cfg.Redis.TokenTTL, logger.Named("tokenstore"))
	return rs, rs.Ping, func() { _ = rdb.Close() }, nil
}

// oauthFlow returns nil when no provider has credentials.
func oauthFlow(cfg *config.Config, secret []byte, logger *zap.Logger) (*oauth.Flow, error) {
	oc, err := oauth.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("oauth config: %w", err)
	}
	reg, err := oauth.NewRegistry(oc, cfg.Session.PublicURL)
	if err != nil {
		return nil, err
	}
	enabled := reg.Enabled()
	if len(enabled) == 0 {
		logger.Warn("no OAuth providers configured; provider sign-in disabled")
		return nil, nil
	}
	logger.Info("oauth providers", zap.Strings("enabled", enabled))
	return oauth.NewFlow(reg, secret, cfg.Session.PublicURL, cfg.Session.Secure)
}

// deletions is the operator view of the data-deletion queue.
func deletions(ctx context.Context, cfg *config.Config, logger *zap.Logger, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: deletions list | deletions complete <request-id>")
	}
	db, err := postgres.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	svc := service.NewDeletionService(postgres.NewDeletionRepo(db), logger)

	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("deletions list", flag.ContinueOnError)
		limit := fs.Int("limit", 100, "max requests to print")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		rows, err := svc.Pending(ctx, *limit)
		if err != nil {
			return err
		}
		for _, d := range rows {
			fmt.Printf("%s\t%s\t%s\t%s\n", d.RequestID, d.RequestedAt.UTC().Format(time.RFC3339), d.Provider, d.UserEmail)
		}
		return nil
	case "complete":
		if len(args) != 2 {
			return errors.New("usage: deletions complete <request-id>")
		}
		if err := svc.Complete(ctx, args[1]); err != nil {
			return err
		}
		fmt.Println("completed", args[1])
		return nil
	default:
		return fmt.Errorf("unknown deletions command %q", args[0])
	}
}
