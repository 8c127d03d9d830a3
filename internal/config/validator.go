package config

import (
	"fmt"
	"strings"

	"github.com/gyaneshwarpardhi/turnstile/internal/policy"
	"github.com/gyaneshwarpardhi/turnstile/internal/refund"
	"github.com/gyaneshwarpardhi/turnstile/internal/token"
)

// Validate checks the config for:
//   - Required fields and secrets
//   - Positive concurrency and timing settings
//   - Refund tiers and admission rules that compile
func Validate(cfg *Config) error {
	if cfg.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if cfg.Engine.Workers < 1 {
		add("engine.workers must be at least 1 (got %d)", cfg.Engine.Workers)
	}
	if cfg.Engine.QueueDepth < 1 {
		add("engine.queue_depth must be at least 1 (got %d)", cfg.Engine.QueueDepth)
	}
	if cfg.Engine.RequestTimeoutMs < 1 {
		add("engine.request_timeout_ms must be positive")
	}

	if cfg.Token.RotationIntervalSeconds < 1 {
		add("token.rotation_interval_seconds must be at least 1")
	}
	if cfg.Token.GraceWindows != nil && *cfg.Token.GraceWindows < 0 {
		add("token.grace_windows must not be negative")
	}
	if strings.TrimSpace(cfg.Token.Keys) == "" {
		add("token keys are required (TURNSTILE_TOKEN_KEYS)")
	} else if keys, err := token.ParseKeySpec(cfg.Token.Keys); err != nil {
		add("token keys: %v", err)
	} else if _, ok := keys[cfg.Token.KeyID]; !ok {
		add("token.key_id %q is not among the configured keys", cfg.Token.KeyID)
	}

	if cfg.Scan.MaxSessionMinutes < 1 {
		add("scan.max_session_minutes must be at least 1")
	}
	if cfg.Registrar.LockTimeoutMs < 1 {
		add("registrar.lock_timeout_ms must be positive")
	}
	if cfg.Registrar.MaxRetries < 0 {
		add("registrar.max_retries must not be negative")
	}
	if cfg.Registrar.RetryBackoffMs < 0 {
		add("registrar.retry_backoff_ms must not be negative")
	}
	if err := refund.Validate(cfg.Refund.DefaultTiers); err != nil {
		add("refund.default_tiers: %v", err)
	}
	if _, err := policy.Compile(cfg.Admission.Rules); err != nil {
		add("admission.rules: %v", err)
	}
	if cfg.Payment.Secret == "" {
		add("payment secret is required (TURNSTILE_PAYMENT_SECRET)")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Keyring builds the token keyring from the configured keys.
func (c *Config) Keyring() (*token.Keyring, error) {
	keys, err := token.ParseKeySpec(c.Token.Keys)
	if err != nil {
		return nil, err
	}
	return token.NewKeyring(keys, c.Token.KeyID)
}

// RefundPolicy returns the venue-wide refund table.
func (c *Config) RefundPolicy() (*refund.Policy, error) {
	return refund.New(c.Refund.DefaultTiers)
}

// Predicate compiles the admission rules. No rules admits everything.
func (c *Config) Predicate() (policy.Predicate, error) {
	if len(c.Admission.Rules) == 0 {
		return policy.AllowAll{}, nil
	}
	return policy.Compile(c.Admission.Rules)
}
