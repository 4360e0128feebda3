package security

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-partners/core"
)

func TestAppKeySecretProviderRoundTrip(t *testing.T) {
	provider, err := NewAppKeySecretProviderFromString("partner-platform-key", WithKeyID("partners-v1"), WithVersion(2))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	plaintext := []byte("whsec_0123456789abcdef")
	sealed, err := provider.Encrypt(context.Background(), plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Equal(sealed, plaintext) {
		t.Fatal("sealed payload equals plaintext")
	}
	if !IsSealed(string(sealed)) {
		t.Fatal("sealed payload carries no envelope prefix")
	}

	opened, err := provider.Decrypt(context.Background(), sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("round trip produced %q, want %q", opened, plaintext)
	}
}

func TestAppKeySecretProviderNoncesDiffer(t *testing.T) {
	provider, err := NewAppKeySecretProviderFromString("partner-platform-key")
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	first, err := provider.Encrypt(context.Background(), []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	second, err := provider.Encrypt(context.Background(), []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Equal(first, second) {
		t.Fatal("two encryptions of the same plaintext are identical")
	}
}

func TestAppKeySecretProviderRejectsMetadataMismatch(t *testing.T) {
	issuer, err := NewAppKeySecretProviderFromString("partner-platform-key", WithKeyID("partners-v1"), WithVersion(1))
	if err != nil {
		t.Fatalf("new issuer provider: %v", err)
	}
	receiver, err := NewAppKeySecretProviderFromString("partner-platform-key", WithKeyID("partners-v2"), WithVersion(2))
	if err != nil {
		t.Fatalf("new receiver provider: %v", err)
	}

	sealed, err := issuer.Encrypt(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := receiver.Decrypt(context.Background(), sealed); err == nil {
		t.Fatal("expected metadata mismatch error")
	}
}

func TestAppKeySecretProviderRejectsWrongKey(t *testing.T) {
	issuer, err := NewAppKeySecretProviderFromString("partner-platform-key")
	if err != nil {
		t.Fatalf("new issuer provider: %v", err)
	}
	other, err := NewAppKeySecretProviderFromString("a-different-key")
	if err != nil {
		t.Fatalf("new other provider: %v", err)
	}

	sealed, err := issuer.Encrypt(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := other.Decrypt(context.Background(), sealed); err == nil {
		t.Fatal("expected decryption failure with the wrong key")
	}
}

func TestAppKeySecretProviderRejectsUnsealedInput(t *testing.T) {
	provider, err := NewAppKeySecretProviderFromString("partner-platform-key")
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	_, err = provider.Decrypt(context.Background(), []byte("plain-stored-secret"))
	if err == nil {
		t.Fatal("expected rejection of a value with no envelope")
	}
	if !errors.Is(err, core.ErrNotSealed) {
		t.Fatalf("error = %v, want core.ErrNotSealed so callers can fall back to plaintext", err)
	}
}
