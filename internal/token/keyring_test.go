package token

import (
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestParseKeySpec(t *testing.T) {
	keys, err := ParseKeySpec(" k1=alpha , k2=beta=gamma ,")
	if err != nil {
		t.Fatalf("ParseKeySpec: %v", err)
	}
	if string(keys["k1"]) != "alpha" || string(keys["k2"]) != "beta=gamma" {
		t.Fatalf("keys = %q", keys)
	}
	for _, bad := range []string{"", "k1", "=secret", "k1=", " , "} {
		if _, err := ParseKeySpec(bad); err == nil {
			t.Errorf("ParseKeySpec(%q): expected error", bad)
		}
	}
}

func TestNewKeyringValidation(t *testing.T) {
	tests := []struct {
		name   string
		keys   map[string][]byte
		active string
	}{
		{"no keys", nil, "k1"},
		{"blank active", map[string][]byte{"k1": []byte("s")}, " "},
		{"missing active", map[string][]byte{"k1": []byte("s")}, "k2"},
		{"empty secret", map[string][]byte{"k1": {}}, "k1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewKeyring(tt.keys, tt.active); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestDerivedKeysDifferPerGeneration(t *testing.T) {
	ring, err := NewKeyring(map[string][]byte{"k1": []byte("same"), "k2": []byte("same")}, "k1")
	if err != nil {
		t.Fatal(err)
	}
	a, _ := ring.key("k1", purposeRotating)
	b, _ := ring.key("k2", purposeRotating)
	if string(a) == string(b) {
		t.Fatal("generations sharing a secret must derive different keys")
	}
	if len(a) != derivedKeySize {
		t.Fatalf("derived key size = %d", len(a))
	}
}
