package security

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestKeyringSignValueRoundTrip(t *testing.T) {
	keyring, err := NewKeyring("app-secret")
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	signed, err := keyring.SignValue([]byte(`{"shop":"demo.myshopify.com"}`))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	payload, err := keyring.VerifyValue(signed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if string(payload) != `{"shop":"demo.myshopify.com"}` {
		t.Fatalf("unexpected payload %q", payload)
	}
}

func TestKeyringRejectsTamperedValues(t *testing.T) {
	keyring, _ := NewKeyring("app-secret")
	other, _ := NewKeyring("other-secret")
	signed, _ := keyring.SignValue([]byte("payload"))
	encoded, signature, _ := strings.Cut(signed, ".")

	tampered := []string{
		"",
		encoded,
		encoded + ".",
		"eA." + signature,
		encoded + "." + strings.Repeat("A", len(signature)),
	}
	for _, value := range tampered {
		if _, err := keyring.VerifyValue(value); err == nil {
			t.Fatalf("expected %q to fail verification", value)
		}
	}
	if _, err := other.VerifyValue(signed); err == nil {
		t.Fatalf("expected value signed with another secret to fail")
	}
}

func TestKeyringDerivesDistinctKeys(t *testing.T) {
	keyring, _ := NewKeyring("app-secret")
	if bytes.Equal(keyring.signingKey, keyring.encryptionKey) {
		t.Fatalf("expected independent signing and encryption keys")
	}
	again, _ := NewKeyring("app-secret")
	if keyring.KeyID() != again.KeyID() {
		t.Fatalf("expected deterministic key id")
	}
	if _, err := NewKeyring(" "); err == nil {
		t.Fatalf("expected empty secret to fail")
	}
}

func TestSealerRoundTripAndTamper(t *testing.T) {
	keyring, _ := NewKeyring("app-secret")
	sealer, err := keyring.Sealer()
	if err != nil {
		t.Fatalf("sealer: %v", err)
	}
	ctx := context.Background()
	sealed, err := sealer.Seal(ctx, []byte("shpat_token"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if !strings.HasPrefix(string(sealed), sealedVersion+"."+keyring.KeyID()+".") {
		t.Fatalf("expected versioned key id prefix, got %q", sealed)
	}
	if strings.Contains(string(sealed), "shpat_token") {
		t.Fatalf("expected plaintext to be hidden")
	}
	plaintext, err := sealer.Open(ctx, sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(plaintext) != "shpat_token" {
		t.Fatalf("unexpected plaintext %q", plaintext)
	}

	otherKeyring, _ := NewKeyring("other-secret")
	otherSealer, _ := otherKeyring.Sealer()
	if _, err := otherSealer.Open(ctx, sealed); err == nil {
		t.Fatalf("expected open with a different key to fail")
	}
	if _, err := sealer.Open(ctx, []byte("plain")); !errors.Is(err, ErrSealedValue) {
		t.Fatalf("expected malformed value error, got %v", err)
	}
	tampered := append([]byte(nil), sealed...)
	tampered[len(tampered)-2] ^= 0x01
	if _, err := sealer.Open(ctx, tampered); err == nil {
		t.Fatalf("expected tampered value to fail")
	}
}
