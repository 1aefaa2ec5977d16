// Copyright 2015 Google Inc. All Rights Reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//     http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package jose builds the flattened JWS requests RFC 8555 §6.2-§6.3
// requires: RS256 over a protected header carrying either a full JWK (for
// newAccount) or a kid (for every other authenticated request), with
// POST-as-GET requests signing an empty payload.
package jose

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// b64 is the URL-safe, unpadded alphabet every ACME base64url value uses.
func b64(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

func b64Decode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// Base64URL encodes b in the no-padding, URL-safe alphabet RFC 7515 §2
// mandates for every base64url value (JWS segments, the CSR DER blob).
func Base64URL(b []byte) string { return b64(b) }

// Base64URLDecode reverses Base64URL.
func Base64URLDecode(s string) ([]byte, error) { return b64Decode(s) }

// JWK is the minimal RSA JSON Web Key representation this core needs
// (RFC 7517 §4, RFC 7518 §6.3): kty/e/n only, big-endian minimal integers.
type JWK struct {
	Kty string `json:"kty"`
	E   string `json:"e"`
	N   string `json:"n"`
}

// NewJWK builds the JWK for an RSA public key.
func NewJWK(pub *rsa.PublicKey) JWK {
	eBytes := bigIntBytes(int64(pub.E))
	return JWK{
		Kty: "RSA",
		E:   b64(eBytes),
		N:   b64(pub.N.Bytes()),
	}
}

// bigIntBytes returns the minimal big-endian encoding of a small positive
// integer such as the RSA public exponent (almost always 65537).
func bigIntBytes(v int64) []byte {
	if v == 0 {
		return []byte{0}
	}
	var b []byte
	for v > 0 {
		b = append([]byte{byte(v & 0xff)}, b...)
		v >>= 8
	}
	return b
}

// Thumbprint computes the RFC 7638 JWK thumbprint: SHA-256 over the
// canonical JSON {"e":...,"kty":"RSA","n":...} with lexicographic member
// order and no whitespace.
func Thumbprint(pub *rsa.PublicKey) string {
	jwk := NewJWK(pub)
	canonical := fmt.Sprintf(`{"e":%q,"kty":"RSA","n":%q}`, jwk.E, jwk.N)
	sum := sha256.Sum256([]byte(canonical))
	return b64(sum[:])
}

// KeyAuthorization computes token "." thumbprint, the value the HTTP-01
// responder serves for a given challenge token.
func KeyAuthorization(token string, accountKey *rsa.PublicKey) string {
	return token + "." + Thumbprint(accountKey)
}
