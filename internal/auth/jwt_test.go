package auth

import (
	"testing"
	"time"
)

func TestIssueThenValidateRoundTrips(t *testing.T) {
	v, err := NewValidator("test-secret")
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}

	tok, err := v.Issue("user-1", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := v.Validate(tok)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.UserID != "user-1" || claims.Subject != "user-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	v, _ := NewValidator("test-secret")
	tok, err := v.Issue("user-1", -time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := v.Validate(tok); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	a, _ := NewValidator("secret-a")
	b, _ := NewValidator("secret-b")

	tok, err := a.Issue("user-1", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := b.Validate(tok); err == nil {
		t.Fatalf("expected a token signed with a different secret to be rejected")
	}
}

func TestNewValidatorRejectsEmptySecret(t *testing.T) {
	if _, err := NewValidator(""); err == nil {
		t.Fatalf("expected an empty secret to be rejected")
	}
}
