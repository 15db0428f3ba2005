package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/goliatone/go-shopify-app/core"
	"github.com/goliatone/go-shopify-app/security"
)

// codec turns sessions and session ids into signed cookie values.
type codec struct {
	keyring *security.Keyring
	sealer  *security.Sealer
}

func newCodec(keyring *security.Keyring) (*codec, error) {
	if keyring == nil {
		return nil, fmt.Errorf("session: keyring is required")
	}
	sealer, err := keyring.Sealer()
	if err != nil {
		return nil, err
	}
	return &codec{keyring: keyring, sealer: sealer}, nil
}

func (c *codec) encodeSession(ctx context.Context, session core.Session) (string, error) {
	payload, err := json.Marshal(session)
	if err != nil {
		return "", fmt.Errorf("session: marshal session: %w", err)
	}
	sealed, err := c.sealer.Seal(ctx, payload)
	if err != nil {
		return "", err
	}
	return c.keyring.SignValue(sealed)
}

func (c *codec) decodeSession(ctx context.Context, value string) (*core.Session, error) {
	sealed, err := c.keyring.VerifyValue(value)
	if err != nil {
		return nil, err
	}
	payload, err := c.sealer.Open(ctx, sealed)
	if err != nil {
		return nil, err
	}
	var session core.Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, fmt.Errorf("session: unmarshal session: %w", err)
	}
	return &session, nil
}

func (c *codec) encodeID(id string) (string, error) {
	return c.keyring.SignValue([]byte(strings.TrimSpace(id)))
}

func (c *codec) decodeID(value string) (string, error) {
	payload, err := c.keyring.VerifyValue(value)
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(string(payload))
	if id == "" {
		return "", security.ErrInvalidSignature
	}
	return id, nil
}
