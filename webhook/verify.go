// Package webhook authenticates inbound pipeline webhooks and delivers queue
// artifacts to a downstream consumer.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// SignatureHeader carries "sha256=<hex hmac>".
	SignatureHeader = "X-Webhook-Signature"
	// TimestampHeader carries the signing time in Unix milliseconds.
	TimestampHeader = "X-Webhook-Timestamp"

	signaturePrefix = "sha256="

	// DefaultTolerance is the maximum clock skew accepted for timestamps.
	DefaultTolerance = 5 * time.Minute
)

// Authentication failures. All of them map to 401.
var (
	ErrMissingSignature = errors.New("webhook signature required")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidTimestamp = errors.New("invalid webhook timestamp")
	ErrStaleTimestamp   = errors.New("webhook timestamp outside tolerance")
)

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrMissingSignature) || errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrInvalidTimestamp) || errors.Is(err, ErrStaleTimestamp)
}

// Verifier checks webhook signatures against a pipeline's secret.
//
// Verification is mandatory when RequireSignature is set or when the request
// carries a signature header at all; an unsigned request is accepted only
// when neither holds. In mandatory mode a timestamp, if present, must lie
// within Tolerance of the current time regardless of the signature result.
type Verifier struct {
	RequireSignature bool
	Tolerance        time.Duration

	now func() time.Time
}

// NewVerifier creates a Verifier. A non-positive tolerance selects
// DefaultTolerance.
func NewVerifier(requireSignature bool, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{
		RequireSignature: requireSignature,
		Tolerance:        tolerance,
		now:              time.Now,
	}
}

// Verify authenticates body, the raw request bytes, using the signature and
// timestamp headers in h.
func (v *Verifier) Verify(secret string, h http.Header, body []byte) error {
	sig := strings.TrimSpace(h.Get(SignatureHeader))
	ts := strings.TrimSpace(h.Get(TimestampHeader))

	if sig == "" && !v.RequireSignature {
		return nil
	}

	if ts != "" {
		if err := v.checkTimestamp(ts); err != nil {
			return err
		}
	}
	if sig == "" {
		return ErrMissingSignature
	}
	if !strings.HasPrefix(sig, signaturePrefix) {
		return ErrInvalidSignature
	}
	// Compared as lowercase hex text so that every character of the
	// header is significant.
	got := []byte(strings.TrimPrefix(sig, signaturePrefix))
	want := []byte(hex.EncodeToString(computeHMACSHA256([]byte(secret), signedPayload(ts, body))))
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

func (v *Verifier) checkTimestamp(raw string) error {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return ErrInvalidTimestamp
	}
	now := time.Now
	if v.now != nil {
		now = v.now
	}
	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	age := now().Sub(time.UnixMilli(ms))
	if age < 0 {
		age = -age
	}
	if age > tolerance {
		return ErrStaleTimestamp
	}
	return nil
}

// signedPayload is "<timestamp>.<body>" when a timestamp is sent, otherwise
// the body alone.
func signedPayload(ts string, body []byte) []byte {
	if ts == "" {
		return body
	}
	out := make([]byte, 0, len(ts)+1+len(body))
	out = append(out, ts...)
	out = append(out, '.')
	return append(out, body...)
}

func computeHMACSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}
