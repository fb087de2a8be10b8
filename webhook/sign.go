package webhook

import (
	"encoding/hex"
	"net/http"
	"strconv"
	"time"
)

// Timestamp formats t as the Unix-millisecond value sent in TimestampHeader.
func Timestamp(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// Sign returns the SignatureHeader value for body. An empty timestamp signs
// the body alone.
func Sign(secret, timestamp string, body []byte) string {
	mac := computeHMACSHA256([]byte(secret), signedPayload(timestamp, body))
	return signaturePrefix + hex.EncodeToString(mac)
}

// SignHeaders returns the signature and timestamp headers for body signed
// at time at.
func SignHeaders(secret string, body []byte, at time.Time) map[string]string {
	ts := Timestamp(at)
	return map[string]string{
		SignatureHeader: Sign(secret, ts, body),
		TimestampHeader: ts,
	}
}

// SignRequest sets the signature and timestamp headers on req.
func SignRequest(req *http.Request, secret string, body []byte, at time.Time) {
	for k, v := range SignHeaders(secret, body, at) {
		req.Header.Set(k, v)
	}
}
