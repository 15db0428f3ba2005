package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// sealedVersion prefixes every sealed value as "v1.<key id>.<payload>".
const sealedVersion = "v1"

var ErrSealedValue = errors.New("security: sealed value is malformed")

// Sealer encrypts small payloads such as session cookies and stored access
// tokens with AES-256-GCM. The key id is bound as additional data, so a
// value sealed under another key fails to open. The output is URL safe.
type Sealer struct {
	aead  cipher.AEAD
	keyID string
}

// NewSealer uses key directly when it is 32 bytes and its SHA-256 otherwise.
func NewSealer(key []byte, keyID string) (*Sealer, error) {
	key = bytes.TrimSpace(key)
	if len(key) == 0 {
		return nil, fmt.Errorf("security: sealer key is required")
	}
	if len(key) != 32 {
		sum := sha256.Sum256(key)
		key = sum[:]
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("security: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: gcm: %w", err)
	}
	if keyID == "" {
		keyID = "default"
	}
	if strings.Contains(keyID, ".") {
		return nil, fmt.Errorf("security: key id %q must not contain dots", keyID)
	}
	return &Sealer{aead: aead, keyID: keyID}, nil
}

func (s *Sealer) Seal(_ context.Context, plaintext []byte) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("security: sealer is nil")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: nothing to seal")
	}
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("security: nonce: %w", err)
	}
	payload := s.aead.Seal(nonce, nonce, plaintext, []byte(s.keyID))

	out := make([]byte, 0, len(sealedVersion)+len(s.keyID)+2+base64.RawURLEncoding.EncodedLen(len(payload)))
	out = append(out, sealedVersion...)
	out = append(out, '.')
	out = append(out, s.keyID...)
	out = append(out, '.')
	return base64.RawURLEncoding.AppendEncode(out, payload), nil
}

func (s *Sealer) Open(_ context.Context, sealed []byte) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("security: sealer is nil")
	}
	parts := bytes.SplitN(sealed, []byte("."), 3)
	if len(parts) != 3 || string(parts[0]) != sealedVersion {
		return nil, ErrSealedValue
	}
	if string(parts[1]) != s.keyID {
		return nil, fmt.Errorf("security: sealed with key %q, have %q", parts[1], s.keyID)
	}
	payload, err := base64.RawURLEncoding.AppendDecode(nil, parts[2])
	if err != nil || len(payload) < s.aead.NonceSize() {
		return nil, ErrSealedValue
	}
	nonce, ciphertext := payload[:s.aead.NonceSize()], payload[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, []byte(s.keyID))
	if err != nil {
		return nil, fmt.Errorf("security: open sealed value: %w", err)
	}
	return plaintext, nil
}

func (s *Sealer) KeyID() string {
	if s == nil {
		return ""
	}
	return s.keyID
}
