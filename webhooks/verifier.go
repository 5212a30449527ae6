package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// HeaderHMACVerifier authenticates a delivery against an HMAC-SHA256
// signature carried in a header. Signature verification is pluggable per
// provider; this covers the common hex and base64 encodings.
type HeaderHMACVerifier struct {
	Header   string
	Prefix   string
	Secret   string
	Encoding string // hex | base64
}

func (v HeaderHMACVerifier) Verify(_ context.Context, req Request) error {
	header := strings.TrimSpace(headerValue(req.Headers, v.Header))
	if header == "" {
		return fmt.Errorf("webhooks: %s signature header is required", strings.TrimSpace(v.Header))
	}
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return fmt.Errorf("webhooks: signature secret is required")
	}
	signature := strings.TrimPrefix(header, strings.TrimSpace(v.Prefix))
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return fmt.Errorf("webhooks: signature value is required")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(req.Body)
	expected := mac.Sum(nil)

	switch strings.ToLower(strings.TrimSpace(v.Encoding)) {
	case "base64":
		decoded, err := base64.StdEncoding.DecodeString(signature)
		if err != nil {
			return fmt.Errorf("webhooks: decode base64 signature: %w", err)
		}
		if subtle.ConstantTimeCompare(decoded, expected) != 1 {
			return fmt.Errorf("webhooks: signature verification failed")
		}
	default:
		decoded, err := hex.DecodeString(signature)
		if err != nil {
			return fmt.Errorf("webhooks: decode hex signature: %w", err)
		}
		if subtle.ConstantTimeCompare(decoded, expected) != 1 {
			return fmt.Errorf("webhooks: signature verification failed")
		}
	}
	return nil
}

// PermissiveVerifier accepts every delivery. For providers without a shared
// secret and for local development only.
type PermissiveVerifier struct{}

func (PermissiveVerifier) Verify(context.Context, Request) error {
	return nil
}

// HeaderDeliveryIDExtractor builds an extractor over the given headers,
// first match wins.
func HeaderDeliveryIDExtractor(headers ...string) DeliveryIDExtractor {
	return func(req Request) (string, error) {
		for _, header := range headers {
			if value := headerValue(req.Headers, header); value != "" {
				return value, nil
			}
		}
		return "", fmt.Errorf("webhooks: none of %s carried a delivery id", strings.Join(headers, ", "))
	}
}

var (
	_ Verifier = HeaderHMACVerifier{}
	_ Verifier = PermissiveVerifier{}
)
