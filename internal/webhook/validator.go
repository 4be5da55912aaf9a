// Package webhook receives and processes payment gateway notifications.
// Deliveries are authenticated, deduplicated by event id, and their side
// effects (completing pending registrations) are idempotent.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MaxTimestampSkew bounds how far a delivery timestamp may drift from the
// server clock before it is treated as a replay.
const MaxTimestampSkew = 5 * time.Minute

var (
	ErrMissingToken     = errors.New("webhook token not provided")
	ErrInvalidToken     = errors.New("webhook token invalid")
	ErrInvalidSignature = errors.New("webhook signature invalid")
	ErrStaleTimestamp   = errors.New("webhook timestamp outside accepted window")
)

// Validator authenticates incoming gateway deliveries. The shared token is
// always checked; the HMAC signature and timestamp are checked when the
// gateway sends them.
type Validator struct {
	token string

	// AllowUnverified skips authentication when no token is configured.
	// Only meant for local development against the gateway sandbox.
	AllowUnverified bool

	now func() time.Time
}

// NewValidator builds a Validator for the shared webhook token.
func NewValidator(token string) *Validator {
	return &Validator{token: token, now: time.Now}
}

// Validate authenticates one delivery from its headers and raw body.
func (v *Validator) Validate(header http.Header, body []byte) error {
	if v.token == "" {
		if v.AllowUnverified {
			return nil
		}
		return fmt.Errorf("%w: no token configured", ErrInvalidToken)
	}

	token := extractToken(header)
	if token == "" {
		return ErrMissingToken
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(v.token)) != 1 {
		return ErrInvalidToken
	}

	if sig := extractHeader(header, "X-Asaas-Signature", "X-Signature", "Signature"); sig != "" {
		if err := v.verifySignature(sig, body); err != nil {
			return err
		}
	}

	if ts := extractHeader(header, "X-Asaas-Timestamp", "X-Timestamp", "Timestamp"); ts != "" {
		if err := v.verifyTimestamp(ts); err != nil {
			return err
		}
	}

	return nil
}

func (v *Validator) verifySignature(signature string, body []byte) error {
	mac := hmac.New(sha256.New, []byte(v.token))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	received := strings.TrimPrefix(signature, "sha256=")
	if subtle.ConstantTimeCompare([]byte(received), []byte(expected)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

func (v *Validator) verifyTimestamp(raw string) error {
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrStaleTimestamp, raw)
	}

	sent := time.UnixMilli(millis)
	drift := v.now().Sub(sent)
	if drift < 0 {
		drift = -drift
	}
	if drift > MaxTimestampSkew {
		return fmt.Errorf("%w: drift %s", ErrStaleTimestamp, drift)
	}
	return nil
}

func extractToken(header http.Header) string {
	if tok := extractHeader(header, "Asaas-Access-Token", "X-Asaas-Token"); tok != "" {
		return tok
	}
	if auth := header.Get("Authorization"); auth != "" {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func extractHeader(header http.Header, names ...string) string {
	for _, name := range names {
		if value := header.Get(name); value != "" {
			return value
		}
	}
	return ""
}
