// Package webhook fans rank events out to customer endpoints and delivers
// them signed, with retries.
package webhook

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rankwatch/rankwatch/internal/model"
)

// Delivery headers.
const (
	HeaderSignature  = "X-Rankwatch-Signature"
	HeaderTimestamp  = "X-Rankwatch-Timestamp"
	HeaderDeliveryID = "X-Rankwatch-Delivery-Id"
	HeaderEvent      = "X-Rankwatch-Event"

	userAgent    = "Rankwatch-Webhook/1.0"
	secretPrefix = "whsec_"
)

// DefaultReplayWindow is how far a delivery timestamp may drift from the
// receiver's clock.
const DefaultReplayWindow = 5 * time.Minute

var (
	ErrMissingSignature     = errors.New("missing signature headers")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrReplayWindowExceeded = errors.New("timestamp outside replay window")
)

// Signer stamps outgoing deliveries. The key is the endpoint's stored secret
// hash, so the plaintext secret never has to be kept server side.
type Signer struct {
	key []byte
	now func() time.Time
}

// NewSigner returns a signer keyed by an endpoint's secret hash.
func NewSigner(secretHash string) Signer {
	return Signer{key: []byte(secretHash), now: time.Now}
}

// Sign sets the delivery headers on req, including the signature over body.
func (s Signer) Sign(req *http.Request, body []byte, d *model.WebhookDelivery) {
	ts := s.now().Unix()

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, signature(s.key, ts, body))
	req.Header.Set(HeaderDeliveryID, d.ID)
	req.Header.Set(HeaderEvent, string(d.EventType))
}

// Verifier checks deliveries on the receiving side against the plaintext
// secret handed out when the endpoint was created or rotated.
type Verifier struct {
	Secret string
	Window time.Duration
	Now    func() time.Time
}

// Verify authenticates body using the signature headers in h.
func (v Verifier) Verify(h http.Header, body []byte) error {
	sig := h.Get(HeaderSignature)
	ts, err := strconv.ParseInt(h.Get(HeaderTimestamp), 10, 64)
	if sig == "" || err != nil {
		return ErrMissingSignature
	}

	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	window := v.Window
	if window <= 0 {
		window = DefaultReplayWindow
	}
	if drift := now().Sub(time.Unix(ts, 0)); drift > window || drift < -window {
		return ErrReplayWindowExceeded
	}

	want := signature([]byte(HashSecret(v.Secret)), ts, body)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrInvalidSignature
	}
	return nil
}

// signature is the hex HMAC-SHA256 of "{timestamp}.{body}".
func signature(key []byte, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// HashSecret is the stored form of an endpoint secret, and the signing key.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// GenerateSecret returns a new endpoint secret: "whsec_" and 32 random
// bytes in hex.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := randRead(b); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return secretPrefix + hex.EncodeToString(b), nil
}

var randRead = rand.Read
