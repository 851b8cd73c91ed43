package jwt

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSessionTokenRoundTrip(t *testing.T) {
	m := NewManager("secret", "gatekeeper", time.Hour, time.Hour)
	sessionID, codeID := uuid.New(), uuid.New()

	token, err := m.GenerateSessionToken(sessionID, codeID, "jti-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := m.ValidateSessionToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != sessionID.String() {
		t.Errorf("subject = %q", claims.Subject)
	}
	if claims.CodeID != codeID.String() {
		t.Errorf("code_id = %q", claims.CodeID)
	}
	if claims.ID != "jti-1" {
		t.Errorf("jti = %q", claims.ID)
	}
}

func TestTokenTypeEnforcement(t *testing.T) {
	m := NewManager("secret", "gatekeeper", time.Hour, time.Hour)

	admin, err := m.GenerateAdminToken("ops")
	if err != nil {
		t.Fatalf("generate admin: %v", err)
	}
	if _, err := m.ValidateSessionToken(admin); err == nil {
		t.Error("admin token accepted as session token")
	}
	if _, err := m.ValidateAdminToken(admin); err != nil {
		t.Errorf("admin token rejected: %v", err)
	}
}

func TestRejectsForeignIssuerAndKey(t *testing.T) {
	m := NewManager("secret", "gatekeeper", time.Hour, time.Hour)
	other := NewManager("other-secret", "gatekeeper", time.Hour, time.Hour)

	token, err := other.GenerateSessionToken(uuid.New(), uuid.New(), "jti")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := m.Validate(token); err == nil {
		t.Error("token signed with a different key accepted")
	}

	issuer := NewManager("secret", "someone-else", time.Hour, time.Hour)
	token, err = issuer.GenerateSessionToken(uuid.New(), uuid.New(), "jti")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := m.Validate(token); err == nil {
		t.Error("token from a different issuer accepted")
	}
}
