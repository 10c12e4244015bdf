// Package signing implements the signed request envelope used between the
// client integration and the gateway. An envelope wraps a base64-encoded JSON
// payload with an HMAC-SHA256 signature over the timestamp and the encoded
// payload, so a request can neither be tampered with nor replayed outside a
// short window.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/baldgiev-collab/serpifai/internal/errors"
)

// DefaultWindow is the accepted clock skew in either direction.
const DefaultWindow = 60 * time.Second

// Envelope is the signed wire wrapper. It is constructed and consumed per
// request and never persisted.
type Envelope struct {
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
	Timestamp int64  `json:"timestamp"`
}

// Signer signs and verifies request envelopes. It is stateless and safe for
// concurrent use.
type Signer struct {
	secret []byte
	window time.Duration
	now    func() time.Time
}

// New creates a Signer. The secret is mandatory; running without one would
// silently disable request verification, so it is a configuration error.
func New(secret string, window time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("signing secret not configured")
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Signer{secret: []byte(secret), window: window, now: time.Now}, nil
}

// Window returns the configured timestamp window.
func (s *Signer) Window() time.Duration { return s.window }

// Sign serializes data and wraps it in a signed envelope stamped with the
// current time.
func (s *Signer) Sign(data interface{}) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal payload: %w", err)
	}

	timestamp := s.now().Unix()
	payload := base64.StdEncoding.EncodeToString(raw)

	return Envelope{
		Payload:   payload,
		Signature: s.signature(timestamp, payload),
		Timestamp: timestamp,
	}, nil
}

// Verify checks the envelope's timestamp and signature and decodes the
// payload into dst. The timestamp check runs first and rejects skew in both
// directions; the signature is compared in constant time.
func (s *Signer) Verify(env Envelope, dst interface{}) error {
	now := s.now().Unix()
	diff := now - env.Timestamp
	if diff < 0 {
		diff = -diff
	}
	if time.Duration(diff)*time.Second > s.window {
		return errors.TimestampExpired(int64(s.window / time.Second))
	}

	expected := s.signature(env.Timestamp, env.Payload)
	if !hmac.Equal([]byte(expected), []byte(env.Signature)) {
		return errors.SignatureInvalid()
	}

	raw, err := base64.StdEncoding.DecodeString(env.Payload)
	if err != nil {
		return errors.PayloadMalformed(err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errors.PayloadMalformed(err)
	}
	return nil
}

func (s *Signer) signature(timestamp int64, payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
