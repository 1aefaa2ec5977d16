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

package acme

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rfjacob/acmeclient/internal/acmeerr"
	"github.com/rfjacob/acmeclient/internal/jose"
)

// Client drives the directory/account/order/authorization/challenge/
// finalize/download walk of RFC 8555. It owns the current directory,
// nonce and account progression; the HTTP client underneath it is shared
// and otherwise stateless.
type Client struct {
	http      *http.Client
	directory Directory
	nonce     *NonceManager
	signer    *jose.Signer
	kid       string
}

// Discover fetches the ACME directory and seeds the nonce manager (RFC
// 8555 §7.1.1, §7.2).
func Discover(ctx context.Context, httpClient *http.Client, directoryURL string) (Directory, *NonceManager, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, directoryURL, nil)
	if err != nil {
		return Directory{}, nil, acmeerr.Wrap("directory", acmeerr.Connection, err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return Directory{}, nil, acmeerr.Wrap("directory", acmeerr.Connection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Directory{}, nil, acmeerr.FromResponse("directory", resp)
	}

	var dir Directory
	if err := json.NewDecoder(resp.Body).Decode(&dir); err != nil {
		return Directory{}, nil, acmeerr.Wrap("directory", acmeerr.Unknown, err)
	}

	nonceMgr := NewNonceManager(httpClient, dir.NewNonce)
	if err := nonceMgr.Seed(); err != nil {
		return Directory{}, nil, acmeerr.Wrap("directory", acmeerr.Connection, err)
	}

	return dir, nonceMgr, nil
}

// NewClient builds a Client once the directory has been discovered and the
// account key is known. The signer authenticates with accountKey for every
// subsequent request.
func NewClient(httpClient *http.Client, dir Directory, nonceMgr *NonceManager, accountKey *rsa.PrivateKey) *Client {
	return &Client{
		http:      httpClient,
		directory: dir,
		nonce:     nonceMgr,
		signer:    jose.NewSigner(accountKey, nonceMgr),
	}
}

// Directory returns the discovered directory.
func (c *Client) Directory() Directory { return c.directory }

// Kid returns the account URL captured by NewAccount. Empty until
// NewAccount has succeeded.
func (c *Client) Kid() string { return c.kid }

// NewAccount registers (or re-discovers) the account bound to the client's
// key (RFC 8555 §7.3). A 200 response (existing account) and a 201
// response (new account) are both accepted; either way Kid is populated
// from the response's Location header.
func (c *Client) NewAccount(ctx context.Context, contactEmail string) (*Account, error) {
	payload := newAccountRequest{TermsOfServiceAgreed: true}
	if contactEmail != "" {
		payload.Contact = []string{"mailto:" + contactEmail}
	}

	sign := func(url string) (string, error) {
		body, err := json.Marshal(payload)
		if err != nil {
			return "", err
		}
		return c.signer.SignJWK(url, body)
	}

	var account Account
	resp, err := c.request(ctx, "newAccount", c.directory.NewAccount, sign, &account)
	if err != nil {
		return nil, err
	}

	kid, err := locationOf(resp)
	if err != nil {
		return nil, acmeerr.Wrap("newAccount", acmeerr.Malformed, err)
	}
	c.kid = kid
	account.Kid = kid
	return &account, nil
}

// NewOrder creates an order for a single DNS identifier (RFC 8555 §7.4).
// Multi-SAN orders are out of scope.
func (c *Client) NewOrder(ctx context.Context, domain string) (*Order, error) {
	payload := newOrderRequest{Identifiers: []Identifier{{Type: "dns", Value: domain}}}

	sign := func(url string) (string, error) {
		return c.signer.SignPayload(url, c.kid, payload)
	}

	var order Order
	resp, err := c.request(ctx, "newOrder", c.directory.NewOrder, sign, &order)
	if err != nil {
		return nil, err
	}
	if loc, err := locationOf(resp); err == nil {
		order.URL = loc
	}
	return &order, nil
}

// FetchAuthorization performs a POST-as-GET on an authorization URL (RFC
// 8555 §7.5).
func (c *Client) FetchAuthorization(ctx context.Context, url string) (*Authorization, error) {
	sign := func(u string) (string, error) { return c.signer.SignPayload(u, c.kid, nil) }

	var authz Authorization
	if _, err := c.request(ctx, "authorization", url, sign, &authz); err != nil {
		return nil, err
	}
	return &authz, nil
}

// RespondToChallenge tells the server "I am ready, please validate" by
// POSTing an empty JSON object to the challenge URL (RFC 8555 §7.5.1).
func (c *Client) RespondToChallenge(ctx context.Context, challengeURL string) (*Challenge, error) {
	sign := func(u string) (string, error) {
		return c.signer.SignPayload(u, c.kid, struct{}{})
	}

	var ch Challenge
	if _, err := c.request(ctx, "challenge", challengeURL, sign, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// FetchOrder performs a POST-as-GET on an order URL, used while polling
// toward finalization (RFC 8555 §7.1.3, §7.4).
func (c *Client) FetchOrder(ctx context.Context, url string) (*Order, error) {
	sign := func(u string) (string, error) { return c.signer.SignPayload(u, c.kid, nil) }

	var order Order
	if _, err := c.request(ctx, "order", url, sign, &order); err != nil {
		return nil, err
	}
	order.URL = url
	return &order, nil
}

// Finalize POSTs the base64url DER CSR to the order's finalize URL (RFC
// 8555 §7.4).
func (c *Client) Finalize(ctx context.Context, finalizeURL string, csrDER []byte) (*Order, error) {
	payload := finalizeRequest{CSR: jose.Base64URL(csrDER)}
	sign := func(u string) (string, error) {
		return c.signer.SignPayload(u, c.kid, payload)
	}

	var order Order
	if _, err := c.request(ctx, "finalize", finalizeURL, sign, &order); err != nil {
		return nil, err
	}
	order.URL = finalizeURL
	return &order, nil
}

// DownloadCertificate fetches the PEM certificate chain for a completed
// order (RFC 8555 §7.4.2).
func (c *Client) DownloadCertificate(ctx context.Context, url string) ([]byte, error) {
	chain, err := c.downloadCertificate(ctx, url)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, acmeerr.New("download", acmeerr.IncorrectResponse, "empty certificate chain")
	}
	return chain, nil
}

// EnsureHTTP01 extracts the http-01 challenge from authz, failing with
// NoHttpChallengePresent if none is offered (RFC 8555 §8.3).
func EnsureHTTP01(authz *Authorization) (Challenge, error) {
	ch, ok := authz.HTTP01Challenge()
	if !ok {
		return Challenge{}, acmeerr.New("authorization", acmeerr.NoHttpChallengePresent,
			fmt.Sprintf("authorization for %s offers no http-01 challenge", authz.Identifier.Value))
	}
	return ch, nil
}
