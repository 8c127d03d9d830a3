package config

import (
	"time"

	"github.com/gyaneshwarpardhi/turnstile/internal/model"
	"github.com/gyaneshwarpardhi/turnstile/internal/policy"
)

// Config is the top-level YAML structure.
type Config struct {
	Version   string        `yaml:"version"`
	Server    ServerConf    `yaml:"server"`
	Engine    EngineConf    `yaml:"engine"`
	Store     StoreConf     `yaml:"store"`
	Token     TokenConf     `yaml:"token"`
	Scan      ScanConf      `yaml:"scan"`
	Registrar RegistrarConf `yaml:"registrar"`
	Refund    RefundConf    `yaml:"refund"`
	Admission AdmissionConf `yaml:"admission"`
	Payment   PaymentConf   `yaml:"payment"`
}

// ServerConf configures the HTTP listener.
type ServerConf struct {
	Addr string `yaml:"addr"`
}

// EngineConf holds tunable concurrency settings.
type EngineConf struct {
	Workers          int `yaml:"workers"`
	QueueDepth       int `yaml:"queue_depth"` // per worker
	RequestTimeoutMs int `yaml:"request_timeout_ms"`
}

// RequestTimeout returns the per-request deadline.
func (c EngineConf) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// StoreConf locates the database.
type StoreConf struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// TokenConf tunes rotating tokens. Keys normally arrive through the
// environment, never the file.
type TokenConf struct {
	RotationIntervalSeconds int    `yaml:"rotation_interval_seconds"`
	GraceWindows            *int   `yaml:"grace_windows"`
	KeyID                   string `yaml:"key_id"`
	Keys                    string `yaml:"-"`
}

// RotationInterval returns the window length.
func (c TokenConf) RotationInterval() time.Duration {
	return time.Duration(c.RotationIntervalSeconds) * time.Second
}

// ScanConf governs the attendance path.
type ScanConf struct {
	// LegacyOpenMode admits scans from staff with no active assignment.
	LegacyOpenMode    *bool `yaml:"legacy_open_mode"`
	MaxSessionMinutes int   `yaml:"max_session_minutes"`
}

// OpenMode reports the effective legacy open mode setting.
func (c ScanConf) OpenMode() bool {
	return c.LegacyOpenMode == nil || *c.LegacyOpenMode
}

// MaxSession returns the per-session credit cap.
func (c ScanConf) MaxSession() time.Duration {
	return time.Duration(c.MaxSessionMinutes) * time.Minute
}

// RegistrarConf bounds lock waits and retries.
type RegistrarConf struct {
	LockTimeoutMs  int `yaml:"lock_timeout_ms"`
	MaxRetries     int `yaml:"max_retries"`
	RetryBackoffMs int `yaml:"retry_backoff_ms"`
}

func (c RegistrarConf) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMs) * time.Millisecond
}

func (c RegistrarConf) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}

// RefundConf holds the venue-wide tier table.
type RefundConf struct {
	DefaultTiers []model.RefundTier `yaml:"default_tiers"`
}

// AdmissionConf lists the bulk admission rules.
type AdmissionConf struct {
	Rules []policy.Rule `yaml:"rules"`
}

// PaymentConf configures the sandbox gateway.
type PaymentConf struct {
	Secret string `yaml:"-"`
}
