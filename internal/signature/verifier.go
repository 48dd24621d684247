// Package signature authenticates webhook payloads against the shared
// secret configured for each provider.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"reconciler/internal/domain"

	"github.com/stripe/stripe-go/v76/webhook"
)

// Mode selects how strictly time-bound signatures are checked. Replays of
// stored payloads happen long after delivery, so they skip the freshness
// window while still requiring a valid signature.
type Mode int

const (
	ModeLive Mode = iota
	ModeReplay
)

type Verifier interface {
	Verify(payload []byte, header string, mode Mode) bool
}

// Verify checks header against payload with the provider's secret. Any
// failure, including a missing secret, yields false.
func Verify(provider domain.Provider, payload []byte, header, secret string) bool {
	switch provider {
	case domain.ProviderStripe:
		return NewStripeVerifier(secret, webhook.DefaultTolerance).Verify(payload, header, ModeLive)
	case domain.ProviderRazorpay:
		return NewRazorpayVerifier(secret).Verify(payload, header, ModeLive)
	default:
		return false
	}
}

type StripeVerifier struct {
	secret    string
	tolerance time.Duration
}

func NewStripeVerifier(secret string, tolerance time.Duration) *StripeVerifier {
	return &StripeVerifier{secret: secret, tolerance: tolerance}
}

func (v *StripeVerifier) Verify(payload []byte, header string, mode Mode) bool {
	if v.secret == "" || header == "" {
		return false
	}
	if mode == ModeReplay {
		return webhook.ValidatePayloadIgnoringTolerance(payload, header, v.secret) == nil
	}
	return webhook.ValidatePayloadWithTolerance(payload, header, v.secret, v.tolerance) == nil
}

// RazorpayVerifier expects the lowercase hex HMAC-SHA256 of the raw body.
type RazorpayVerifier struct {
	secret []byte
}

func NewRazorpayVerifier(secret string) *RazorpayVerifier {
	return &RazorpayVerifier{secret: []byte(secret)}
}

func (v *RazorpayVerifier) Verify(payload []byte, header string, _ Mode) bool {
	if len(v.secret) == 0 || header == "" {
		return false
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}

// RazorpaySignature computes the header value Razorpay would send.
func RazorpaySignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
