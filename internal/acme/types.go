// Copyright 2016 Google Inc. All Rights Reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//     http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package acme implements the RFC 8555 protocol state machine: directory
// discovery, account registration, order creation, authorization and
// challenge retrieval, finalization, and certificate download. Generalized
// from the teacher's draft-era ACMEClient (kube-cert-manager's acme.go) to
// RFC 8555 v2 semantics: kid-based auth, POST-as-GET, and order/
// authorization polling.
package acme

// Status strings as used by accounts, orders, authorizations and
// challenges. RFC 8555 overloads a handful of these names across object
// types; see RFC 8555 §7.1.2-§7.1.6 for which status values apply where.
const (
	StatusPending     = "pending"
	StatusReady       = "ready"
	StatusProcessing  = "processing"
	StatusValid       = "valid"
	StatusInvalid     = "invalid"
	StatusDeactivated = "deactivated"
	StatusRevoked     = "revoked"
	StatusExpired     = "expired"
)

// ChallengeHTTP01 is the only challenge type this core understands (RFC
// 8555 §8.3); DNS-01 and TLS-ALPN-01 are out of scope.
const ChallengeHTTP01 = "http-01"

// Directory lists the ACME server's endpoint URLs, fetched once at start
// (RFC 8555 §7.1.1).
type Directory struct {
	NewNonce   string         `json:"newNonce"`
	NewAccount string         `json:"newAccount"`
	NewOrder   string         `json:"newOrder"`
	RevokeCert string         `json:"revokeCert"`
	KeyChange  string         `json:"keyChange"`
	Meta       *DirectoryMeta `json:"meta,omitempty"`
}

// DirectoryMeta carries informational directory metadata not otherwise
// used by this core, kept only so an unmarshal never drops it silently.
type DirectoryMeta struct {
	TermsOfService string   `json:"termsOfService,omitempty"`
	Website        string   `json:"website,omitempty"`
	CAAIdentities  []string `json:"caaIdentities,omitempty"`
}

// Identifier is the DNS name an order or authorization is scoped to.
type Identifier struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// newAccountRequest is the newAccount POST payload (RFC 8555 §7.3).
type newAccountRequest struct {
	TermsOfServiceAgreed bool     `json:"termsOfServiceAgreed"`
	Contact              []string `json:"contact,omitempty"`
}

// Account is the server's view of the registered account. Kid is not part
// of the JSON body; it is the account URL captured from the newAccount
// response's Location header.
type Account struct {
	Status  string   `json:"status"`
	Orders  string   `json:"orders"`
	Contact []string `json:"contact,omitempty"`
	Kid     string   `json:"-"`
}

// newOrderRequest is the newOrder POST payload (RFC 8555 §7.4).
type newOrderRequest struct {
	Identifiers []Identifier `json:"identifiers"`
}

// Order tracks an in-progress or completed certificate request. Certificate
// is present if and only if Status == StatusValid (RFC 8555 §7.1.3).
type Order struct {
	Status         string       `json:"status"`
	Expires        string       `json:"expires,omitempty"`
	Identifiers    []Identifier `json:"identifiers"`
	Authorizations []string     `json:"authorizations"`
	Finalize       string       `json:"finalize"`
	Certificate    string       `json:"certificate,omitempty"`
	URL            string       `json:"-"`
}

// Authorization is fetched per order and names the challenges the server
// will accept as proof of control over Identifier.
type Authorization struct {
	Identifier Identifier  `json:"identifier"`
	Status     string      `json:"status"`
	Expires    string      `json:"expires,omitempty"`
	Challenges []Challenge `json:"challenges"`
	Wildcard   bool        `json:"wildcard,omitempty"`
}

// HTTP01Challenge returns the authorization's http-01 challenge, or false
// if it doesn't offer one — the NoHttpChallengePresent case.
func (a *Authorization) HTTP01Challenge() (Challenge, bool) {
	for _, c := range a.Challenges {
		if c.Type == ChallengeHTTP01 {
			return c, true
		}
	}
	return Challenge{}, false
}

// Challenge is driven through states by POSTing {} to URL, then polling
// the parent authorization.
type Challenge struct {
	Type      string `json:"type"`
	URL       string `json:"url"`
	Status    string `json:"status"`
	Token     string `json:"token"`
	Validated string `json:"validated,omitempty"`
}

// finalizeRequest is the finalize POST payload (RFC 8555 §7.4).
type finalizeRequest struct {
	CSR string `json:"csr"`
}
