package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"
)

func TestSignOutboundCoversTimestampAndBody(t *testing.T) {
	body := []byte(`{"event":"message.received"}`)
	sig := SignOutbound("secret", 1700000000, body)

	if sig != SignOutbound("secret", 1700000000, body) {
		t.Fatal("signature is not deterministic")
	}
	if sig == SignOutbound("secret", 1700000001, body) {
		t.Fatal("timestamp change did not change signature")
	}
	if sig == SignOutbound("secret", 1700000000, []byte(`{"event":"tampered"}`)) {
		t.Fatal("body change did not change signature")
	}
	if sig == SignOutbound("other", 1700000000, body) {
		t.Fatal("secret change did not change signature")
	}
}

func webhookSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyInboundWebhook(t *testing.T) {
	body := []byte(`{"entry":[]}`)
	good := webhookSignature("hook-secret", body)

	tests := []struct {
		name   string
		body   []byte
		header string
		want   bool
	}{
		{"valid", body, good, true},
		{"mutated body", []byte(`{"entry":[{}]}`), good, false},
		{"wrong secret", body, webhookSignature("other", body), false},
		{"missing prefix", body, good[len("sha256="):], false},
		{"bad hex", body, "sha256=zzzz", false},
		{"empty header", body, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyInboundWebhook("hook-secret", tt.body, tt.header); got != tt.want {
				t.Fatalf("VerifyInboundWebhook = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCallbackTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("callback-secret")

	token, err := issuer.IssueCallbackToken("tenant-1", "run-1", time.Minute)
	if err != nil {
		t.Fatalf("IssueCallbackToken failed: %v", err)
	}

	tenantID, runID, err := issuer.VerifyCallbackToken(token)
	if err != nil {
		t.Fatalf("VerifyCallbackToken failed: %v", err)
	}
	if tenantID != "tenant-1" || runID != "run-1" {
		t.Fatalf("token scope = (%q, %q), want (tenant-1, run-1)", tenantID, runID)
	}
}

func TestCallbackTokenFailsClosed(t *testing.T) {
	issuer := NewTokenIssuer("callback-secret")

	expired, err := issuer.IssueCallbackToken("tenant-1", "run-1", -time.Minute)
	if err != nil {
		t.Fatalf("IssueCallbackToken failed: %v", err)
	}
	foreign, err := NewTokenIssuer("other-secret").IssueCallbackToken("tenant-1", "run-1", time.Minute)
	if err != nil {
		t.Fatalf("IssueCallbackToken failed: %v", err)
	}

	for name, token := range map[string]string{
		"expired":      expired,
		"wrong secret": foreign,
		"garbage":      "not.a.token",
		"empty":        "",
	} {
		t.Run(name, func(t *testing.T) {
			if _, _, err := issuer.VerifyCallbackToken(token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("VerifyCallbackToken error = %v, want ErrInvalidToken", err)
			}
		})
	}
}
