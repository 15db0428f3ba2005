package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

const (
	QueryParamHMAC      = "hmac"
	QueryParamSignature = "signature"
)

// QuerySignatureMessage builds the canonical message Shopify signs: every
// parameter except hmac and signature, sorted by key, joined as k=v with "&".
func QuerySignatureMessage(values url.Values) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		if key == QueryParamHMAC || key == QueryParamSignature {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, escapeSignaturePart(key, true)+"="+escapeSignaturePart(strings.Join(values[key], ","), false))
	}
	return strings.Join(parts, "&")
}

func SignQuery(values url.Values, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(QuerySignatureMessage(values)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyQuerySignature checks the hex hmac parameter of values.
func VerifyQuerySignature(values url.Values, secret string) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return fmt.Errorf("security: signature secret is required")
	}
	provided := strings.TrimSpace(values.Get(QueryParamHMAC))
	if provided == "" {
		return fmt.Errorf("security: hmac parameter is required")
	}
	decoded, err := hex.DecodeString(strings.ToLower(provided))
	if err != nil {
		return ErrInvalidSignature
	}
	expected, _ := hex.DecodeString(SignQuery(values, secret))
	if subtle.ConstantTimeCompare(decoded, expected) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyPayloadSignature checks a hex or base64 HMAC-SHA256 of payload.
func VerifyPayloadSignature(payload []byte, signature string, secret string) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return fmt.Errorf("security: signature secret is required")
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return fmt.Errorf("security: signature value is required")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	expected := mac.Sum(nil)

	if decoded, err := hex.DecodeString(signature); err == nil && len(decoded) == len(expected) {
		if subtle.ConstantTimeCompare(decoded, expected) == 1 {
			return nil
		}
		return ErrInvalidSignature
	}
	decoded, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return ErrInvalidSignature
	}
	if subtle.ConstantTimeCompare(decoded, expected) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

func SignPayloadBase64(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func escapeSignaturePart(value string, key bool) string {
	value = strings.ReplaceAll(value, "%", "%25")
	value = strings.ReplaceAll(value, "&", "%26")
	if key {
		value = strings.ReplaceAll(value, "=", "%3D")
	}
	return value
}
