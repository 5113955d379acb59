package token

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMintVerifyRoundTrip(t *testing.T) {
	svc := NewService("test-secret", time.Hour)

	tok := svc.Mint(42)
	if err := svc.Verify(tok, 42); err != nil {
		t.Fatalf("expected valid token, got %v", err)
	}
}

func TestVerifyRejectsWrongTask(t *testing.T) {
	svc := NewService("test-secret", time.Hour)

	tok := svc.Mint(42)
	if err := svc.Verify(tok, 43); !errors.Is(err, ErrTaskMismatch) {
		t.Fatalf("expected ErrTaskMismatch, got %v", err)
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	svc := NewService("test-secret", time.Hour)

	tok := svc.Mint(42)
	raw, _ := base64.RawURLEncoding.DecodeString(tok)
	parts := strings.Split(string(raw), ":")
	// Flip a character in the hex signature
	sig := []byte(parts[2])
	if sig[0] == 'a' {
		sig[0] = 'b'
	} else {
		sig[0] = 'a'
	}
	tampered := base64.RawURLEncoding.EncodeToString([]byte(parts[0] + ":" + parts[1] + ":" + string(sig)))

	if err := svc.Verify(tampered, 42); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	minter := NewService("secret-a", time.Hour)
	verifier := NewService("secret-b", time.Hour)

	tok := minter.Mint(42)
	if err := verifier.Verify(tok, 42); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyExpiryIsExclusive(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	svc := NewService("test-secret", time.Hour).WithClock(func() time.Time { return clock })

	tok := svc.Mint(7)

	// One second before expiry: still valid.
	clock = base.Add(time.Hour - time.Second)
	if err := svc.Verify(tok, 7); err != nil {
		t.Fatalf("expected valid token before expiry, got %v", err)
	}

	// At the exact expiry instant: expired.
	clock = base.Add(time.Hour)
	if err := svc.Verify(tok, 7); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken at expiry, got %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	svc := NewService("test-secret", time.Hour)

	for _, tok := range []string{
		"",
		"not-base64!!!",
		base64.RawURLEncoding.EncodeToString([]byte("no-colons")),
		base64.RawURLEncoding.EncodeToString([]byte("a:b:c:d")),
		base64.RawURLEncoding.EncodeToString([]byte("x:123:deadbeef")),
	} {
		if err := svc.Verify(tok, 1); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("token %q: expected ErrInvalidToken, got %v", tok, err)
		}
	}
}
