package token

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/turnstile/internal/clock"
)

const badgeType = "badge"

// Form names the shape of a presented token.
type Form string

const (
	FormRotating Form = "ROTATING"
	FormBadge    Form = "BADGE"
)

// Classify reports which verifier a token belongs to. Badges are JWTs and
// therefore carry exactly two dots; base64url never produces a dot.
func Classify(token string) Form {
	if strings.Count(token, ".") == 2 {
		return FormBadge
	}
	return FormRotating
}

// RevocationChecker answers whether a badge may still be honoured.
type RevocationChecker interface {
	BadgeRevoked(ctx context.Context, participantID, badgeID string) (bool, error)
}

// BadgeResult is the structured outcome of verifying a badge.
type BadgeResult struct {
	Valid         bool   `json:"valid"`
	ParticipantID string `json:"participant_id,omitempty"`
	BadgeID       string `json:"badge_id,omitempty"`
	Reason        Reason `json:"reason,omitempty"`
}

type badgeClaims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// Badges issues and verifies long-lived fallback tokens for printed cards.
// A badge has no time window; it stays valid until its key generation is
// retired or the badge is revoked.
type Badges struct {
	ring    *Keyring
	revoked RevocationChecker
	clock   clock.Clock
}

// NewBadges builds a badge issuer. revoked may be nil when revocation is not
// tracked (tests, tooling); a nil clk means the wall clock.
func NewBadges(ring *Keyring, revoked RevocationChecker, clk clock.Clock) (*Badges, error) {
	if ring == nil {
		return nil, fmt.Errorf("token keyring is required")
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Badges{ring: ring, revoked: revoked, clock: clk}, nil
}

// Issue signs a new badge for participantID and returns it with its id.
func (b *Badges) Issue(participantID string) (string, string, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return "", "", fmt.Errorf("participant id is required")
	}
	keyID := b.ring.ActiveKeyID()
	key, ok := b.ring.key(keyID, purposeBadge)
	if !ok {
		return "", "", fmt.Errorf("active badge key %q unavailable", keyID)
	}
	badgeID := uuid.NewString()
	claims := badgeClaims{
		Type: badgeType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  participantID,
			ID:       badgeID,
			IssuedAt: jwt.NewNumericDate(b.clock.Now()),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t.Header["kid"] = keyID
	signed, err := t.SignedString(key)
	if err != nil {
		return "", "", fmt.Errorf("sign badge: %w", err)
	}
	return signed, badgeID, nil
}

var errUnknownBadgeKey = errors.New("unknown badge key")

// Verify checks signature, type, subject and revocation.
func (b *Badges) Verify(ctx context.Context, token string) BadgeResult {
	claims := &badgeClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(token), claims, b.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	switch {
	case err == nil:
	case errors.Is(err, errUnknownBadgeKey):
		return BadgeResult{Reason: ReasonUnknownKey}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return BadgeResult{Reason: ReasonBadDigest}
	default:
		return BadgeResult{Reason: ReasonMalformed}
	}
	if claims.Type != badgeType || claims.Subject == "" || claims.ID == "" {
		return BadgeResult{Reason: ReasonMalformed}
	}

	res := BadgeResult{ParticipantID: claims.Subject, BadgeID: claims.ID}
	if b.revoked != nil {
		revoked, err := b.revoked.BadgeRevoked(ctx, claims.Subject, claims.ID)
		if err != nil {
			res.Reason = ReasonLookupFailed
			return res
		}
		if revoked {
			res.Reason = ReasonRevoked
			return res
		}
	}
	res.Valid = true
	return res
}

func (b *Badges) keyFunc(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	key, ok := b.ring.key(kid, purposeBadge)
	if !ok {
		return nil, errUnknownBadgeKey
	}
	return key, nil
}
