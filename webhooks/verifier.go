package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/contractlane/go-webhooks/core"
)

const defaultReplayWindow = 5 * time.Minute

type Verifier interface {
	Verify(ctx context.Context, req core.InboundRequest) error
}

// SignatureVerifier authenticates inbound webhooks with an HMAC-SHA256 over
// timestamp + "." + raw body. The raw body bytes must be used exactly as
// received; re-serialized payloads produce different digests.
type SignatureVerifier struct {
	SignatureHeader string
	TimestampHeader string
	Secret          string
	ReplayWindow    time.Duration
	Now             func() time.Time
}

func (v SignatureVerifier) Verify(_ context.Context, req core.InboundRequest) error {
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return fmt.Errorf("webhooks: signature secret is required")
	}

	sigHeader := strings.TrimSpace(v.SignatureHeader)
	if sigHeader == "" {
		sigHeader = "x-signature"
	}
	tsHeader := strings.TrimSpace(v.TimestampHeader)
	if tsHeader == "" {
		tsHeader = "x-timestamp"
	}

	signature := strings.TrimSpace(headerValue(req.Headers, sigHeader))
	if signature == "" {
		return fmt.Errorf("webhooks: %s signature header is required", sigHeader)
	}
	rawTimestamp := strings.TrimSpace(headerValue(req.Headers, tsHeader))
	if rawTimestamp == "" {
		return fmt.Errorf("webhooks: %s timestamp header is required", tsHeader)
	}

	timestamp, err := parseTimestamp(rawTimestamp)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if v.Now != nil {
		now = v.Now().UTC()
	}
	window := v.ReplayWindow
	if window <= 0 {
		window = defaultReplayWindow
	}
	delta := now.Sub(timestamp.UTC())
	if delta < 0 {
		delta = -delta
	}
	if delta > window {
		return fmt.Errorf("webhooks: timestamp outside replay window")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(rawTimestamp))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(req.Body)
	expected := mac.Sum(nil)

	decoded, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("webhooks: decode hex signature: %w", err)
	}
	if subtle.ConstantTimeCompare(decoded, expected) != 1 {
		return fmt.Errorf("webhooks: signature verification failed")
	}
	return nil
}

// Sign computes the hex signature the verifier expects. Test helpers and the
// outbound signer share it so the digest construction lives in one place.
func (v SignatureVerifier) Sign(rawTimestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(strings.TrimSpace(v.Secret)))
	_, _ = mac.Write([]byte(strings.TrimSpace(rawTimestamp)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// SecretVerifier performs exact-match shared-secret auth for lifecycle
// callbacks. Comparison is constant time.
type SecretVerifier struct {
	Header string
	Secret string
}

func (v SecretVerifier) Verify(_ context.Context, req core.InboundRequest) error {
	expected := strings.TrimSpace(v.Secret)
	if expected == "" {
		return fmt.Errorf("webhooks: shared secret is required")
	}
	header := strings.TrimSpace(v.Header)
	if header == "" {
		header = "x-webhook-secret"
	}
	actual := strings.TrimSpace(headerValue(req.Headers, header))
	if actual == "" {
		return fmt.Errorf("webhooks: %s header is required", header)
	}
	if subtle.ConstantTimeCompare([]byte(actual), []byte(expected)) != 1 {
		return fmt.Errorf("webhooks: shared secret mismatch")
	}
	return nil
}

func parseTimestamp(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(seconds, 0), nil
	}
	return time.Time{}, fmt.Errorf("webhooks: invalid timestamp header %q", raw)
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
