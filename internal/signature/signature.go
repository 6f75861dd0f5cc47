// Package signature signs outbound webhook payloads and verifies them on the
// receiving side.
package signature

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	HeaderSignature = "X-Hookline-Signature"
	HeaderEvent     = "X-Hookline-Event"
	HeaderDelivery  = "X-Hookline-Delivery"
	HeaderEventID   = "X-Hookline-Event-Id"
	HeaderTimestamp = "X-Hookline-Timestamp"

	UserAgent = "Hookline-Webhooks/1.0"

	prefix       = "sha256="
	secretPrefix = "whsec_"
)

// Sign returns "sha256=<hex>" where hex is the lowercase HMAC-SHA256 of the
// exact payload bytes keyed by secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return prefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether header is a valid signature of payload. The
// comparison is constant-time.
func Verify(payload []byte, secret, header string) bool {
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), provided)
}

// GenerateSecret returns "whsec_" followed by 32 random bytes in hex.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return secretPrefix + hex.EncodeToString(b), nil
}

// Delivery identifies the payload being sent.
type Delivery struct {
	ID      string
	EventID string
	Event   string
}

// SetHeaders writes the canonical outbound header set onto h.
func SetHeaders(h http.Header, d Delivery, sig string, sentAt time.Time) {
	h.Set("Content-Type", "application/json")
	h.Set("User-Agent", UserAgent)
	h.Set(HeaderSignature, sig)
	h.Set(HeaderEvent, d.Event)
	h.Set(HeaderDelivery, d.ID)
	h.Set(HeaderEventID, d.EventID)
	h.Set(HeaderTimestamp, sentAt.UTC().Format(time.RFC3339))
}
