package token

import (
	"crypto/sha256"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Key purposes. Each root secret yields one independent key per purpose so a
// badge signature can never double as a rotating-token digest.
const (
	purposeRotating = "rotating"
	purposeBadge    = "badge"
)

const derivedKeySize = 32

// Keyring stores root secrets by generation id and the active generation used
// for minting. Verification accepts any generation still in the ring, so
// retiring an id invalidates every token minted under it.
type Keyring struct {
	derived     map[string]map[string][]byte // key id -> purpose -> key
	activeKeyID string
}

// NewKeyring derives per-purpose keys from root secrets.
func NewKeyring(keys map[string][]byte, activeKeyID string) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("token keys are required")
	}
	activeKeyID = strings.TrimSpace(activeKeyID)
	if activeKeyID == "" {
		return nil, fmt.Errorf("active token key id is required")
	}
	if _, ok := keys[activeKeyID]; !ok {
		return nil, fmt.Errorf("active token key id %q is not configured", activeKeyID)
	}
	derived := make(map[string]map[string][]byte, len(keys))
	for id, root := range keys {
		if len(root) == 0 {
			return nil, fmt.Errorf("token key %q is empty", id)
		}
		byPurpose := make(map[string][]byte, 2)
		for _, purpose := range []string{purposeRotating, purposeBadge} {
			k, err := deriveKey(root, id, purpose)
			if err != nil {
				return nil, err
			}
			byPurpose[purpose] = k
		}
		derived[id] = byPurpose
	}
	return &Keyring{derived: derived, activeKeyID: activeKeyID}, nil
}

// ParseKeySpec parses "id=secret,id2=secret2" into a key map.
func ParseKeySpec(spec string) (map[string][]byte, error) {
	keys := make(map[string][]byte)
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid token key entry %q", entry)
		}
		id := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if id == "" || value == "" {
			return nil, fmt.Errorf("invalid token key entry %q", entry)
		}
		keys[id] = []byte(value)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no token keys in spec")
	}
	return keys, nil
}

// ActiveKeyID returns the generation used for new tokens.
func (k *Keyring) ActiveKeyID() string {
	if k == nil {
		return ""
	}
	return k.activeKeyID
}

func (k *Keyring) key(keyID, purpose string) ([]byte, bool) {
	if k == nil {
		return nil, false
	}
	byPurpose, ok := k.derived[keyID]
	if !ok {
		return nil, false
	}
	key, ok := byPurpose[purpose]
	return key, ok
}

func deriveKey(root []byte, keyID, purpose string) ([]byte, error) {
	r := hkdf.New(sha256.New, root, []byte(keyID), []byte("turnstile/"+purpose))
	key := make([]byte, derivedKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive %s key for %q: %w", purpose, keyID, err)
	}
	return key, nil
}
