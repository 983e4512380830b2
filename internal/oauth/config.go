package oauth

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds provider credentials. A provider without a client id is disabled.
type Config struct {
	GoogleClientID     string `env:"NOMADRISE_GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"NOMADRISE_GOOGLE_CLIENT_SECRET"`

	FacebookClientID     string `env:"NOMADRISE_FACEBOOK_CLIENT_ID"`
	FacebookClientSecret string `env:"NOMADRISE_FACEBOOK_CLIENT_SECRET"`

	// Apple takes either a ready client secret or the key material to mint one.
	AppleClientID     string `env:"NOMADRISE_APPLE_CLIENT_ID"`
	AppleClientSecret string `env:"NOMADRISE_APPLE_CLIENT_SECRET"`
	AppleTeamID       string `env:"NOMADRISE_APPLE_TEAM_ID"`
	AppleKeyID        string `env:"NOMADRISE_APPLE_KEY_ID"`
	ApplePrivateKey   string `env:"NOMADRISE_APPLE_PRIVATE_KEY"`

	// Overrides for tests and self-hosted mirrors. Empty means the public endpoint.
	GoogleEndpoints   Endpoints `envPrefix:"NOMADRISE_GOOGLE_"`
	FacebookEndpoints Endpoints `envPrefix:"NOMADRISE_FACEBOOK_"`
	AppleEndpoints    Endpoints `envPrefix:"NOMADRISE_APPLE_"`
}

// Endpoints are the three URLs a provider flow touches.
type Endpoints struct {
	AuthURL    string `env:"AUTH_URL"`
	TokenURL   string `env:"TOKEN_URL"`
	ProfileURL string `env:"PROFILE_URL"`
}

func (e Endpoints) or(def Endpoints) Endpoints {
	if e.AuthURL == "" {
		e.AuthURL = def.AuthURL
	}
	if e.TokenURL == "" {
		e.TokenURL = def.TokenURL
	}
	if e.ProfileURL == "" {
		e.ProfileURL = def.ProfileURL
	}
	return e
}

// LoadConfig reads provider credentials from the environment.
func LoadConfig() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse oauth env: %w", err)
	}
	return c, nil
}
