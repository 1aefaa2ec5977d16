package jose

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"testing"

	josecore "github.com/go-jose/go-jose/v4"
)

type staticNonce string

func (s staticNonce) Nonce() (string, error) { return string(s), nil }

func mustKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

// decodeFlattened parses the flattened JWS JSON and verifies it against the
// signer's public key, mirroring google-acme's decodeJWSRequest helper.
func decodeFlattened(t *testing.T, raw string, pub *rsa.PublicKey) *josecore.JSONWebSignature {
	t.Helper()
	obj, err := josecore.ParseSigned(raw, []josecore.SignatureAlgorithm{josecore.RS256})
	if err != nil {
		t.Fatalf("parse flattened JWS: %v", err)
	}
	if _, err := obj.Verify(pub); err != nil {
		t.Fatalf("verify signature: %v", err)
	}
	return obj
}

func TestSignJWKEmbedsPublicKey(t *testing.T) {
	key := mustKey(t)
	s := NewSigner(key, staticNonce("nonce-1"))

	raw, err := s.SignJWK("https://example.test/acme/new-account", []byte(`{"termsOfServiceAgreed":true}`))
	if err != nil {
		t.Fatalf("SignJWK: %v", err)
	}

	obj := decodeFlattened(t, raw, &key.PublicKey)
	hdr := obj.Signatures[0].Protected
	if hdr.Algorithm != "RS256" {
		t.Errorf("alg = %q; want RS256", hdr.Algorithm)
	}
	if hdr.Nonce != "nonce-1" {
		t.Errorf("nonce = %q; want nonce-1", hdr.Nonce)
	}
	if hdr.JSONWebKey == nil {
		t.Fatal("expected embedded jwk header, got none")
	}
}

func TestSignKidOmitsJWK(t *testing.T) {
	key := mustKey(t)
	s := NewSigner(key, staticNonce("nonce-2"))

	raw, err := s.SignKid("https://example.test/acme/new-order", "https://example.test/acme/acct/1", []byte(`{}`))
	if err != nil {
		t.Fatalf("SignKid: %v", err)
	}

	obj := decodeFlattened(t, raw, &key.PublicKey)
	hdr := obj.Signatures[0].Protected
	if hdr.JSONWebKey != nil {
		t.Error("kid-authenticated request must not embed a jwk")
	}
	if hdr.KeyID != "https://example.test/acme/acct/1" {
		t.Errorf("kid = %q; want account URL", hdr.KeyID)
	}
}

func TestSignPayloadPostAsGetIsEmptyString(t *testing.T) {
	key := mustKey(t)
	s := NewSigner(key, staticNonce("nonce-3"))

	raw, err := s.SignPayload("https://example.test/acme/authz/1", "kid", nil)
	if err != nil {
		t.Fatalf("SignPayload: %v", err)
	}

	var flat struct {
		Payload string `json:"payload"`
	}
	if err := json.Unmarshal([]byte(raw), &flat); err != nil {
		t.Fatalf("unmarshal flattened JWS: %v", err)
	}
	if flat.Payload != "" {
		t.Errorf("POST-as-GET payload = %q; want empty string", flat.Payload)
	}

	decodeFlattened(t, raw, &key.PublicKey)
}
