// Package config loads the web server configuration.
//
// Sources, highest priority first:
//  1. explicit --config path;
//  2. CONFIG_PATH;
//  3. ./local.yaml;
//  4. env only.
//
// Env always overlays the file.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// EnvLocal switches logging to development mode.
const EnvLocal = "local"

type Config struct {
	Env      string         `yaml:"env" env:"ENV" env-default:"local"`
	HTTP     HTTPConfig     `yaml:"http"`
	Backend  BackendConfig  `yaml:"backend"`
	Session  SessionConfig  `yaml:"session"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Limiter  LimiterConfig  `yaml:"limiter"`
	Sync     SyncConfig     `yaml:"sync"`
}

// HTTPConfig is the public listener.
type HTTPConfig struct {
	Host            string        `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port            string        `yaml:"port" env:"HTTP_PORT" env-default:"3000"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
	// TrustedProxies lists peers (IPs or CIDRs) whose X-Forwarded-For is believed.
	// Empty means the header is ignored.
	TrustedProxies []string `yaml:"trusted_proxies" env:"HTTP_TRUSTED_PROXIES" env-separator:","`
}

func (h HTTPConfig) Addr() string { return net.JoinHostPort(h.Host, h.Port) }

// Proxies parses TrustedProxies. A bare address becomes a single-host prefix.
func (h HTTPConfig) Proxies() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(h.TrustedProxies))
	for _, raw := range h.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("http.trusted_proxies: %w", err)
			}
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("http.trusted_proxies: %w", err)
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

// BackendConfig points at the REST API.
type BackendConfig struct {
	BaseURL        string        `yaml:"base_url" env:"BACKEND_URL" env-default:"http://localhost:8000/api"`
	Timeout        time.Duration `yaml:"timeout" env:"BACKEND_TIMEOUT" env-default:"15s"`
	RefreshTimeout time.Duration `yaml:"refresh_timeout" env:"BACKEND_REFRESH_TIMEOUT" env-default:"15s"`
}

// SessionConfig controls the session cookie.
type SessionConfig struct {
	Secret    string        `yaml:"secret" env:"SESSION_SECRET"`
	TTL       time.Duration `yaml:"ttl" env:"SESSION_TTL" env-default:"720h"`
	Secure    bool          `yaml:"secure" env:"SESSION_SECURE" env-default:"false"`
	PublicURL string        `yaml:"public_url" env:"PUBLIC_URL" env-default:"http://localhost:3000"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn" env:"DATABASE_URL"`
}

// RedisConfig holds per-session token pairs. An empty URL keeps them in process.
type RedisConfig struct {
	URL      string        `yaml:"url" env:"REDIS_URL"`
	TokenTTL time.Duration `yaml:"token_ttl" env:"REDIS_TOKEN_TTL" env-default:"720h"`
}

// LimiterConfig throttles email logins.
type LimiterConfig struct {
	Window   time.Duration `yaml:"window" env:"LIMITER_WINDOW" env-default:"15m"`
	MaxFails int           `yaml:"max_fails" env:"LIMITER_MAX_FAILS" env-default:"5"`
	BlockFor time.Duration `yaml:"block_for" env:"LIMITER_BLOCK_FOR" env-default:"15m"`
}

// SyncConfig is the OAuth sync retry policy.
type SyncConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env:"SYNC_MAX_ATTEMPTS" env-default:"3"`
	BaseDelay   time.Duration `yaml:"base_delay" env:"SYNC_BASE_DELAY" env-default:"1s"`
	Multiplier  float64       `yaml:"multiplier" env:"SYNC_MULTIPLIER" env-default:"2"`
}

// Validate reports settings the server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Session.Secret) < 32 {
		errs = append(errs, errors.New("session.secret must be at least 32 bytes"))
	}
	if c.Postgres.DSN == "" {
		errs = append(errs, errors.New("postgres.dsn is required"))
	}
	if c.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required"))
	}
	if _, err := c.HTTP.Proxies(); err != nil {
		errs = append(errs, err)
	}
	if c.Sync.MaxAttempts < 1 {
		errs = append(errs, errors.New("sync.max_attempts must be positive"))
	}
	return errors.Join(errs...)
}

// MustLoad panics on any load or validation error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

func Load(path string) (*Config, error) {
	var cfg Config

	read := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}
		// ReadConfig overlays env itself.
		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		return &cfg, nil
	}

	if path != "" {
		return read(path)
	}
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		return read(envPath)
	}
	if _, err := os.Stat("local.yaml"); err == nil {
		return read("local.yaml")
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}
	return &cfg, nil
}
