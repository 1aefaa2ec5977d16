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

package jose

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"

	josecore "github.com/go-jose/go-jose/v4"
)

// NonceSource supplies the next anti-replay nonce to stamp into the
// protected header of a single request. Implemented by the nonce manager
// in internal/acme.
type NonceSource interface {
	Nonce() (string, error)
}

// Signer produces flattened JWS requests signed with RS256, the only
// algorithm this core supports (RFC 8555 §6.2).
type Signer struct {
	key   *rsa.PrivateKey
	nonce NonceSource
}

// NewSigner builds a Signer over an account private key. nonce supplies a
// fresh anti-replay nonce for every Sign call.
func NewSigner(key *rsa.PrivateKey, nonce NonceSource) *Signer {
	return &Signer{key: key, nonce: nonce}
}

// Empty is the sentinel payload for POST-as-GET requests: the signing
// input's payload segment must be the literal empty string, not the
// base64url encoding of an empty JSON value.
var Empty []byte

// SignJWK produces a flattened JWS whose protected header embeds the
// account's public key instead of a kid. Used exactly once, for
// newAccount (RFC 8555 §7.3), since no kid exists until that call returns.
func (s *Signer) SignJWK(url string, payload []byte) (string, error) {
	return s.sign(url, payload, true, "")
}

// SignKid produces a flattened JWS whose protected header carries the
// account's kid (its registration URL). Used for every authenticated
// request after newAccount succeeds.
func (s *Signer) SignKid(url, kid string, payload []byte) (string, error) {
	return s.sign(url, payload, false, kid)
}

func (s *Signer) sign(url string, payload []byte, embedJWK bool, kid string) (string, error) {
	extra := map[josecore.HeaderKey]interface{}{"url": url}
	if !embedJWK {
		extra[josecore.HeaderKey("kid")] = kid
	}

	signer, err := josecore.NewSigner(
		josecore.SigningKey{Algorithm: josecore.RS256, Key: s.key},
		&josecore.SignerOptions{
			NonceSource:  s.nonce,
			EmbedJWK:     embedJWK,
			ExtraHeaders: extra,
		},
	)
	if err != nil {
		return "", fmt.Errorf("jose: build signer: %w", err)
	}

	obj, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("jose: sign payload: %w", err)
	}

	return obj.FullSerialize(), nil
}

// SignPayload marshals v to JSON and signs it with SignKid. A nil v
// produces a POST-as-GET request (RFC 8555 §6.3): the payload must be
// exactly the empty string for challenge/order/certificate fetches.
func (s *Signer) SignPayload(url, kid string, v interface{}) (string, error) {
	if v == nil {
		return s.SignKid(url, kid, Empty)
	}
	body, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("jose: marshal payload: %w", err)
	}
	return s.SignKid(url, kid, body)
}
