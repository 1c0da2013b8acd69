// Package signing provides the cryptographic utilities guarding both
// directions of the workflow-engine boundary: HMAC signatures on outbound
// bridge calls and inbound channel webhooks, and short-lived JWTs scoping
// engine callbacks to one tenant and run.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Header names used by the bridge when signing outbound requests.
const (
	TimestampHeader = "X-Bridge-Timestamp"
	SignatureHeader = "X-Bridge-Signature"
)

// WebhookSignatureHeader is the channel provider's signature header.
const WebhookSignatureHeader = "X-Hub-Signature-256"

var (
	// ErrInvalidToken is returned for any callback token that fails
	// verification. Verification fails closed; callers must not
	// distinguish reasons to external parties.
	ErrInvalidToken = errors.New("signing: invalid callback token")
)

// SignOutbound computes the hex-encoded HMAC-SHA256 of "{timestamp}.{body}".
func SignOutbound(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyInboundWebhook checks the provider's "sha256=<hex>" signature
// header against the raw request body. The comparison is constant time and
// operates on the raw bytes as received, never a re-serialized structure.
func VerifyInboundWebhook(secret string, rawBody []byte, signatureHeader string) bool {
	const prefix = "sha256="
	if !strings.HasPrefix(signatureHeader, prefix) {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(signatureHeader, prefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	return hmac.Equal(provided, mac.Sum(nil))
}

// CallbackClaims are the JWT claims carried by a callback token.
type CallbackClaims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id"`
	RunID    string `json:"run_id"`
}

// TokenIssuer issues and verifies callback tokens.
type TokenIssuer struct {
	secret []byte
}

// NewTokenIssuer creates a token issuer with the given HMAC secret.
func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret)}
}

// IssueCallbackToken mints a short-lived token scoping a callback to
// exactly one tenant and run.
func (t *TokenIssuer) IssueCallbackToken(tenantID, runID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := CallbackClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   runID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		TenantID: tenantID,
		RunID:    runID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// VerifyCallbackToken parses and verifies a callback token, returning the
// tenant and run it is scoped to. Any failure yields ErrInvalidToken.
func (t *TokenIssuer) VerifyCallbackToken(tokenString string) (tenantID, runID string, err error) {
	claims := &CallbackClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid || claims.TenantID == "" || claims.RunID == "" {
		return "", "", ErrInvalidToken
	}
	return claims.TenantID, claims.RunID, nil
}
