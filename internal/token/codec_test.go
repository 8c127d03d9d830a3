package token

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

func testRing(t *testing.T) *Keyring {
	t.Helper()
	ring, err := NewKeyring(map[string][]byte{"k1": []byte("first-secret")}, "k1")
	if err != nil {
		t.Fatalf("NewKeyring: %v", err)
	}
	return ring
}

func testCodec(t *testing.T, ring *Keyring) *Codec {
	t.Helper()
	c, err := NewCodec(ring, Config{})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func TestGenerateVerifyRoundTrip(t *testing.T) {
	c := testCodec(t, testRing(t))
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tok, err := c.Generate("p-1", now)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if strings.ContainsAny(tok, "=+/.") {
		t.Errorf("token %q is not unpadded base64url", tok)
	}
	res := c.Verify(tok, now)
	if !res.Valid || res.ParticipantID != "p-1" || res.KeyID != "k1" {
		t.Fatalf("Verify = %+v", res)
	}
	if res.Window != c.Window(now) {
		t.Errorf("window = %d, want %d", res.Window, c.Window(now))
	}
}

func TestRotationWindowFromWindowStart(t *testing.T) {
	c := testCodec(t, testRing(t))
	interval := c.RotationInterval()
	start := time.Unix(0, 0).Add(interval * 57_000_000).UTC()

	tok, err := c.Generate("p-1", start)
	if err != nil {
		t.Fatal(err)
	}
	for _, offset := range []time.Duration{0, time.Second, interval, 2*interval - time.Nanosecond} {
		if res := c.Verify(tok, start.Add(offset)); !res.Valid {
			t.Errorf("offset %v: rejected with %s", offset, res.Reason)
		}
	}
	for _, offset := range []time.Duration{2 * interval, 3 * interval, time.Hour} {
		res := c.Verify(tok, start.Add(offset))
		if res.Valid || res.Reason != ReasonExpired {
			t.Errorf("offset %v: got %+v, want EXPIRED", offset, res)
		}
	}
}

func TestRotationWindowFromAnyInstant(t *testing.T) {
	c := testCodec(t, testRing(t))
	interval := c.RotationInterval()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for _, skew := range []time.Duration{0, 7 * time.Second, 29 * time.Second, 29*time.Second + 999*time.Millisecond} {
		minted := base.Add(skew)
		tok, err := c.Generate("p-9", minted)
		if err != nil {
			t.Fatal(err)
		}
		until := c.ValidUntil(minted)
		if until.After(minted.Add(2 * interval)) {
			t.Errorf("skew %v: valid until %v exceeds two intervals", skew, until)
		}
		if res := c.Verify(tok, until.Add(-time.Nanosecond)); !res.Valid {
			t.Errorf("skew %v: rejected before ValidUntil: %s", skew, res.Reason)
		}
		if res := c.Verify(tok, minted.Add(2*interval)); res.Valid {
			t.Errorf("skew %v: accepted at minted+2×interval", skew)
		}
	}
}

func TestVerifyFutureWindowIsPremature(t *testing.T) {
	c := testCodec(t, testRing(t))
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tok, _ := c.Generate("p-1", now.Add(c.RotationInterval()))

	res := c.Verify(tok, now)
	if res.Valid || res.Reason != ReasonPremature {
		t.Fatalf("got %+v, want PREMATURE", res)
	}
}

func TestVerifyTamperedDigest(t *testing.T) {
	c := testCodec(t, testRing(t))
	now := time.Now()
	tok, _ := c.Generate("p-1", now)

	raw, _ := base64.RawURLEncoding.DecodeString(tok)
	raw[len(raw)-1] ^= 0x01
	res := c.Verify(base64.RawURLEncoding.EncodeToString(raw), now)
	if res.Valid || res.Reason != ReasonBadDigest {
		t.Fatalf("got %+v, want BAD_DIGEST", res)
	}
}

func TestVerifySubstitutedParticipant(t *testing.T) {
	c := testCodec(t, testRing(t))
	now := time.Now()
	a, _ := c.Generate("aaaa", now)
	rawA, _ := base64.RawURLEncoding.DecodeString(a)

	// Same-length subject swapped inside the payload keeps it well formed.
	forged := []byte(strings.Replace(string(rawA), "aaaa", "bbbb", 1))
	res := c.Verify(base64.RawURLEncoding.EncodeToString(forged), now)
	if res.Valid || res.Reason != ReasonBadDigest {
		t.Fatalf("got %+v, want BAD_DIGEST", res)
	}
}

func TestVerifyMalformed(t *testing.T) {
	c := testCodec(t, testRing(t))
	now := time.Now()
	cases := map[string]string{
		"empty":      "",
		"not base64": "!!!not-a-token!!!",
		"too short":  base64.RawURLEncoding.EncodeToString([]byte("short")),
		"garbage":    base64.RawURLEncoding.EncodeToString(make([]byte, 64)),
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			res := c.Verify(tok, now)
			if res.Valid || res.Reason != ReasonMalformed {
				t.Errorf("got %+v, want MALFORMED", res)
			}
		})
	}
}

func TestRetiredKeyGeneration(t *testing.T) {
	now := time.Now()
	old, err := NewKeyring(map[string][]byte{"k1": []byte("s1"), "k2": []byte("s2")}, "k1")
	if err != nil {
		t.Fatal(err)
	}
	tok, _ := testCodec(t, old).Generate("p-1", now)

	rotated, _ := NewKeyring(map[string][]byte{"k1": []byte("s1"), "k2": []byte("s2")}, "k2")
	if res := testCodec(t, rotated).Verify(tok, now); !res.Valid {
		t.Fatalf("token from previous active key rejected: %s", res.Reason)
	}

	retired, _ := NewKeyring(map[string][]byte{"k2": []byte("s2")}, "k2")
	res := testCodec(t, retired).Verify(tok, now)
	if res.Valid || res.Reason != ReasonUnknownKey {
		t.Fatalf("got %+v, want UNKNOWN_KEY", res)
	}
}

func TestRotatedSecretUnderSameID(t *testing.T) {
	now := time.Now()
	a, _ := NewKeyring(map[string][]byte{"k1": []byte("before")}, "k1")
	b, _ := NewKeyring(map[string][]byte{"k1": []byte("after")}, "k1")
	tok, _ := testCodec(t, a).Generate("p-1", now)
	if res := testCodec(t, b).Verify(tok, now); res.Reason != ReasonBadDigest {
		t.Fatalf("got %+v, want BAD_DIGEST", res)
	}
}

func TestGenerateRequiresParticipant(t *testing.T) {
	c := testCodec(t, testRing(t))
	if _, err := c.Generate("  ", time.Now()); err == nil {
		t.Fatal("expected error for blank participant")
	}
}

func TestNewCodecValidation(t *testing.T) {
	ring := testRing(t)
	if _, err := NewCodec(nil, Config{}); err == nil {
		t.Error("nil keyring accepted")
	}
	if _, err := NewCodec(ring, Config{RotationInterval: time.Millisecond}); err == nil {
		t.Error("sub-second interval accepted")
	}
	if _, err := NewCodec(ring, Config{GraceWindows: -1}); err == nil {
		t.Error("negative grace accepted")
	}
}

func TestZeroGraceWindows(t *testing.T) {
	c, err := NewCodec(testRing(t), Config{RotationInterval: 10 * time.Second, GraceWindows: 0})
	if err != nil {
		t.Fatal(err)
	}
	start := time.Unix(1_000_000, 0)
	tok, _ := c.Generate("p", start)
	if !c.Verify(tok, start.Add(9*time.Second)).Valid {
		t.Error("rejected within own window")
	}
	if c.Verify(tok, start.Add(10*time.Second)).Valid {
		t.Error("accepted in next window without grace")
	}
}
