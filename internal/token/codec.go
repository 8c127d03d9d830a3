// Package token mints and verifies participant identity tokens.
//
// A rotating token is only valid for the rotation window it was minted in
// plus a trailing grace period, so a photographed code stops working within
// 2×RotationInterval. Wire format:
//
//	base64url( CBOR{1:version, 2:key id, 3:participant id, 4:window} || 32-byte keyed BLAKE3 digest )
//
// A badge is the long-lived fallback for printed cards; see badge.go.
package token

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

const (
	payloadVersion = 1
	digestSize     = 32

	// DefaultRotationInterval is the length of one token window.
	DefaultRotationInterval = 30 * time.Second
	// DefaultGraceWindows is how many past windows are still accepted.
	DefaultGraceWindows = 1
)

// Reason explains why a token was rejected.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonMalformed    Reason = "MALFORMED"
	ReasonUnknownKey   Reason = "UNKNOWN_KEY"
	ReasonBadDigest    Reason = "BAD_DIGEST"
	ReasonExpired      Reason = "EXPIRED"
	ReasonPremature    Reason = "PREMATURE"
	ReasonRevoked      Reason = "REVOKED"
	ReasonLookupFailed Reason = "LOOKUP_FAILED"
)

// Result is the structured outcome of verifying a rotating token.
type Result struct {
	Valid         bool   `json:"valid"`
	ParticipantID string `json:"participant_id,omitempty"`
	Window        int64  `json:"window"`
	KeyID         string `json:"key_id,omitempty"`
	Reason        Reason `json:"reason,omitempty"`
}

type payload struct {
	Version uint8  `cbor:"1,keyasint"`
	KeyID   string `cbor:"2,keyasint"`
	Subject string `cbor:"3,keyasint"`
	Window  int64  `cbor:"4,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("token: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("token: CBOR decoder initialization failed: " + err.Error())
	}
}

// Config tunes window arithmetic.
type Config struct {
	RotationInterval time.Duration
	GraceWindows     int
}

// Codec generates and verifies rotating tokens. It is stateless and safe for
// concurrent use.
type Codec struct {
	ring     *Keyring
	interval time.Duration
	grace    int64
}

// NewCodec builds a Codec. Zero config fields take the defaults.
func NewCodec(ring *Keyring, cfg Config) (*Codec, error) {
	if ring == nil {
		return nil, fmt.Errorf("token keyring is required")
	}
	if cfg.RotationInterval == 0 {
		cfg.RotationInterval = DefaultRotationInterval
	}
	if cfg.RotationInterval < time.Second {
		return nil, fmt.Errorf("rotation interval %v is below one second", cfg.RotationInterval)
	}
	if cfg.GraceWindows < 0 {
		return nil, fmt.Errorf("grace windows must not be negative")
	}
	return &Codec{ring: ring, interval: cfg.RotationInterval, grace: int64(cfg.GraceWindows)}, nil
}

// RotationInterval returns the configured window length.
func (c *Codec) RotationInterval() time.Duration { return c.interval }

// Window returns floor(now / RotationInterval).
func (c *Codec) Window(now time.Time) int64 {
	n := now.UnixNano()
	i := c.interval.Nanoseconds()
	w := n / i
	if n%i < 0 {
		w--
	}
	return w
}

// ValidUntil returns the first instant a token minted at now is rejected.
func (c *Codec) ValidUntil(now time.Time) time.Time {
	end := (c.Window(now) + c.grace + 1) * c.interval.Nanoseconds()
	return time.Unix(0, end).UTC()
}

// Generate mints the token for participantID in the window containing now.
func (c *Codec) Generate(participantID string, now time.Time) (string, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return "", fmt.Errorf("participant id is required")
	}
	keyID := c.ring.ActiveKeyID()
	key, ok := c.ring.key(keyID, purposeRotating)
	if !ok {
		return "", fmt.Errorf("active token key %q unavailable", keyID)
	}
	body, err := encMode.Marshal(payload{
		Version: payloadVersion,
		KeyID:   keyID,
		Subject: participantID,
		Window:  c.Window(now),
	})
	if err != nil {
		return "", fmt.Errorf("encode token payload: %w", err)
	}
	sum, err := digest(key, body)
	if err != nil {
		return "", err
	}
	raw := make([]byte, 0, len(body)+digestSize)
	raw = append(raw, body...)
	raw = append(raw, sum...)
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Verify checks integrity and window. It never panics and reports every
// failure through Result.Reason.
func (c *Codec) Verify(token string, now time.Time) Result {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(token))
	if err != nil || len(raw) <= digestSize {
		return Result{Reason: ReasonMalformed}
	}
	split := len(raw) - digestSize
	body, sum := raw[:split], raw[split:]

	var p payload
	if err := decMode.Unmarshal(body, &p); err != nil {
		return Result{Reason: ReasonMalformed}
	}
	if p.Version != payloadVersion || p.Subject == "" || p.KeyID == "" {
		return Result{Reason: ReasonMalformed}
	}

	res := Result{ParticipantID: p.Subject, Window: p.Window, KeyID: p.KeyID}
	key, ok := c.ring.key(p.KeyID, purposeRotating)
	if !ok {
		res.Reason = ReasonUnknownKey
		return res
	}
	want, err := digest(key, body)
	if err != nil || subtle.ConstantTimeCompare(want, sum) != 1 {
		res.Reason = ReasonBadDigest
		return res
	}

	current := c.Window(now)
	switch {
	case p.Window > current:
		res.Reason = ReasonPremature
	case p.Window < current-c.grace:
		res.Reason = ReasonExpired
	default:
		res.Valid = true
	}
	return res
}

func digest(key, body []byte) ([]byte, error) {
	h, err := blake3.NewKeyed(key)
	if err != nil {
		return nil, fmt.Errorf("keyed digest: %w", err)
	}
	_, _ = h.Write(body)
	return h.Sum(nil), nil
}
