package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env carries secrets and deployment overrides. Set values win over the file.
type Env struct {
	TokenKeys     string `env:"TURNSTILE_TOKEN_KEYS"`
	TokenKeyID    string `env:"TURNSTILE_TOKEN_KEY_ID"`
	DBPath        string `env:"TURNSTILE_DB_PATH"`
	PaymentSecret string `env:"TURNSTILE_PAYMENT_SECRET"`
	Addr          string `env:"TURNSTILE_ADDR"`
}

// ParseEnv loads Env from the process environment.
func ParseEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}

// Apply overlays the non-empty values onto cfg.
func (e Env) Apply(cfg *Config) {
	if e.TokenKeys != "" {
		cfg.Token.Keys = e.TokenKeys
	}
	if e.TokenKeyID != "" {
		cfg.Token.KeyID = e.TokenKeyID
	}
	if e.DBPath != "" {
		cfg.Store.Path = e.DBPath
	}
	if e.PaymentSecret != "" {
		cfg.Payment.Secret = e.PaymentSecret
	}
	if e.Addr != "" {
		cfg.Server.Addr = e.Addr
	}
}
