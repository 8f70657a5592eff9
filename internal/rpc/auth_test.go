package rpc

import (
	"testing"
	"time"
)

func TestTokenService_IssueAndValidateRoundTrip(t *testing.T) {
	ts := NewTokenService("secret", time.Hour)

	handle, err := ts.Issue("sess-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	sessionID, err := ts.Validate(handle)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if sessionID != "sess-1" {
		t.Fatalf("sessionID = %q, want sess-1", sessionID)
	}
}

func TestTokenService_ValidateRejectsForeignSecret(t *testing.T) {
	issuer := NewTokenService("secret-a", time.Hour)
	verifier := NewTokenService("secret-b", time.Hour)

	handle, err := issuer.Issue("sess-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := verifier.Validate(handle); err != ErrInvalidHandle {
		t.Fatalf("expected ErrInvalidHandle, got %v", err)
	}
}

func TestTokenService_ValidateRejectsExpiredHandle(t *testing.T) {
	ts := NewTokenService("secret", -time.Hour)

	handle, err := ts.Issue("sess-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := ts.Validate(handle); err != ErrInvalidHandle {
		t.Fatalf("expected ErrInvalidHandle for expired handle, got %v", err)
	}
}

func TestTokenService_IssueRejectsEmptySessionID(t *testing.T) {
	ts := NewTokenService("secret", time.Hour)
	if _, err := ts.Issue(""); err == nil {
		t.Fatal("expected error for empty session id")
	}
}
