package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	keyringSalt          = "go-shopify-app.keyring.v1"
	signingKeyInfo       = "session-signing"
	encryptionKeyInfo    = "session-encryption"
	derivedKeyLength     = 32
	signedValueSeparator = "."
)

var ErrInvalidSignature = fmt.Errorf("security: signature verification failed")

// Keyring holds keys derived from one process-wide secret. It is read-only
// after construction and safe for concurrent use.
type Keyring struct {
	signingKey    []byte
	encryptionKey []byte
	keyID         string
}

func NewKeyring(secret string) (*Keyring, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("security: keyring secret is required")
	}
	signingKey, err := deriveKey(secret, signingKeyInfo)
	if err != nil {
		return nil, err
	}
	encryptionKey, err := deriveKey(secret, encryptionKeyInfo)
	if err != nil {
		return nil, err
	}
	fingerprint := sha256.Sum256(signingKey)
	return &Keyring{
		signingKey:    signingKey,
		encryptionKey: encryptionKey,
		keyID:         "k-" + hex.EncodeToString(fingerprint[:4]),
	}, nil
}

func deriveKey(secret string, info string) ([]byte, error) {
	reader := hkdf.New(sha256.New, []byte(secret), []byte(keyringSalt), []byte(info))
	key := make([]byte, derivedKeyLength)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("security: derive %s key: %w", info, err)
	}
	return key, nil
}

func (k *Keyring) KeyID() string {
	if k == nil {
		return ""
	}
	return k.keyID
}

// Sealer returns an AES-256-GCM sealer bound to the derived encryption key.
func (k *Keyring) Sealer() (*Sealer, error) {
	if k == nil {
		return nil, fmt.Errorf("security: keyring is nil")
	}
	return NewSealer(k.encryptionKey, k.keyID)
}

// SignValue returns base64url(payload) + "." + base64url(hmac).
func (k *Keyring) SignValue(payload []byte) (string, error) {
	if k == nil {
		return "", fmt.Errorf("security: keyring is nil")
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + signedValueSeparator + base64.RawURLEncoding.EncodeToString(k.mac([]byte(encoded))), nil
}

// VerifyValue returns the payload of a value produced by SignValue.
func (k *Keyring) VerifyValue(signed string) ([]byte, error) {
	if k == nil {
		return nil, fmt.Errorf("security: keyring is nil")
	}
	encoded, signature, ok := strings.Cut(strings.TrimSpace(signed), signedValueSeparator)
	if !ok || encoded == "" || signature == "" {
		return nil, ErrInvalidSignature
	}
	provided, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	if subtle.ConstantTimeCompare(provided, k.mac([]byte(encoded))) != 1 {
		return nil, ErrInvalidSignature
	}
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	return payload, nil
}

func (k *Keyring) mac(data []byte) []byte {
	mac := hmac.New(sha256.New, k.signingKey)
	_, _ = mac.Write(data)
	return mac.Sum(nil)
}
