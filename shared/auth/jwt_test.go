package auth

import (
	"errors"
	"testing"
	"time"
)

func TestGenerateVerifyRoundTrip(t *testing.T) {
	m, err := NewManager([]byte("super-secret"), "rockim", time.Minute)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	tok, err := m.Generate(42)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	claims, err := m.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	uid, err := claims.UID64()
	if err != nil {
		t.Fatalf("UID64: %v", err)
	}
	if uid != 42 {
		t.Fatalf("want uid 42, got %d", uid)
	}
}

func TestVerifyExpired(t *testing.T) {
	m, _ := NewManager([]byte("s"), "rockim", -time.Minute)
	tok, err := m.Generate(1)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	_, err = m.Verify(tok)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("want ErrTokenExpired, got %v", err)
	}
}

func TestVerifyWrongSecret(t *testing.T) {
	a, _ := NewManager([]byte("secret-a"), "rockim", time.Minute)
	b, _ := NewManager([]byte("secret-b"), "rockim", time.Minute)

	tok, err := a.Generate(7)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	_, err = b.Verify(tok)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("want ErrTokenInvalid, got %v", err)
	}
}
