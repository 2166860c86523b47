package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewTokenService("secret", time.Hour)
	token, expiresAt, err := svc.GenerateToken("operator")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expected expiry in the future")
	}
	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != "operator" || claims.Role != RoleOperator {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestTokenRejectsOtherSecretAndExpiry(t *testing.T) {
	token, _, err := NewTokenService("secret", time.Hour).GenerateToken("operator")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := NewTokenService("other", time.Hour).ValidateToken(token); err == nil {
		t.Fatalf("expected signature failure")
	}

	expired := NewTokenService("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _, err := expired.GenerateToken("operator")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := expired.ValidateToken(old); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestTokenRequiresOperatorRole(t *testing.T) {
	claims := Claims{Role: "viewer", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := NewTokenService("secret", time.Hour).ValidateToken(token); err == nil {
		t.Fatalf("expected role check to fail")
	}
}

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	hash, err := h.Hash("hunter2")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := h.Compare(hash, "hunter2"); err != nil {
		t.Fatalf("compare: %v", err)
	}
	if err := h.Compare(hash, "wrong"); err == nil {
		t.Fatalf("expected mismatch")
	}
	if _, err := h.Hash(""); err == nil {
		t.Fatalf("expected empty password to be rejected")
	}
}
