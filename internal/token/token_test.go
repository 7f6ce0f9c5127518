package token

import (
	"testing"
	"time"
)

func newTestCodec(t *testing.T, opts ...Option) *Codec {
	t.Helper()
	c, err := NewCodec("test-secret", opts...)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func TestIssueAndVerifyAccess(t *testing.T) {
	c := newTestCodec(t, WithIssuer("test-issuer"), WithAccessTTL(15*time.Minute))

	raw, exp, err := c.IssueAccess("user-42")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expected future expiration, got %v", exp)
	}

	claims, err := c.Verify(raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-42" {
		t.Fatalf("unexpected subject: %s", claims.Subject)
	}
	if claims.Kind != KindAccess {
		t.Fatalf("unexpected kind: %s", claims.Kind)
	}
	if claims.Issuer != "test-issuer" {
		t.Fatalf("unexpected issuer: %s", claims.Issuer)
	}
}

func TestIssueRefreshCarriesKindAndID(t *testing.T) {
	c := newTestCodec(t)

	raw, jti, _, err := c.IssueRefresh("user-7")
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}
	if jti == "" {
		t.Fatalf("expected non-empty jti")
	}

	claims, err := c.Verify(raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Kind != KindRefresh {
		t.Fatalf("unexpected kind: %s", claims.Kind)
	}
	if claims.ID != jti {
		t.Fatalf("jti mismatch: %s != %s", claims.ID, jti)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	past := time.Now().Add(-2 * time.Hour)
	issued := newTestCodec(t, WithClock(func() time.Time { return past }), WithAccessTTL(time.Minute))

	raw, _, err := issued.IssueAccess("user-1")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}

	verifier := newTestCodec(t)
	if _, err := verifier.Verify(raw); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	c := newTestCodec(t)
	other, err := NewCodec("another-secret")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	raw, _, err := other.IssueAccess("user-1")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	if _, err := c.Verify(raw); err != ErrInvalidToken {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	c := newTestCodec(t)
	for _, raw := range []string{"", "   ", "not.a.jwt", "a.b"} {
		if _, err := c.Verify(raw); err != ErrInvalidToken {
			t.Fatalf("input %q: expected ErrInvalidToken, got %v", raw, err)
		}
	}
}
