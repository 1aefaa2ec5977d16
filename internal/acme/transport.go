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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rfjacob/acmeclient/internal/acmeerr"
)

// retryDelay is the backoff before the one automatic retry this core grants
// a transient 5xx or transport failure.
const retryDelay = 1 * time.Second

// signFunc produces a flattened JWS body for url, using whatever
// authentication (jwk or kid) the caller has chosen.
type signFunc func(url string) (string, error)

// request performs one signed POST, decoding a JSON response body into out
// (if non-nil) on success. It applies two recovery rules (RFC 8555 §6.7):
// retry once on badNonce after refreshing the nonce, and retry once on a
// 5xx or transport failure after retryDelay.
func (c *Client) request(ctx context.Context, stage, url string, sign signFunc, out interface{}) (*http.Response, error) {
	resp, err := c.doSigned(ctx, stage, url, sign, out)
	if err == nil {
		return resp, nil
	}

	if acmeerr.IsBadNonce(err) {
		if seedErr := c.nonce.Seed(); seedErr != nil {
			return resp, acmeerr.Wrap(stage, acmeerr.Connection, seedErr)
		}
		return c.doSigned(ctx, stage, url, sign, out)
	}

	if acmeerr.IsRetryable(err) {
		time.Sleep(retryDelay)
		return c.doSigned(ctx, stage, url, sign, out)
	}

	return resp, err
}

// doSigned performs exactly one signed POST attempt.
func (c *Client) doSigned(ctx context.Context, stage, url string, sign signFunc, out interface{}) (*http.Response, error) {
	body, err := sign(url)
	if err != nil {
		return nil, acmeerr.Wrap(stage, acmeerr.Unknown, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte(body)))
	if err != nil {
		return nil, acmeerr.Wrap(stage, acmeerr.Connection, err)
	}
	req.Header.Set("Content-Type", "application/jose+json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, acmeerr.Wrap(stage, acmeerr.Connection, err)
	}
	defer resp.Body.Close()

	c.nonce.UpdateFromResponse(resp)

	if resp.StatusCode >= 400 {
		return resp, acmeerr.FromResponse(stage, resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, acmeerr.Wrap(stage, acmeerr.Unknown, err)
		}
	}
	return resp, nil
}

// downloadCertificate issues a POST-as-GET for the PEM certificate chain,
// which is not JSON and so bypasses the json.Decode path above.
func (c *Client) downloadCertificate(ctx context.Context, url string) ([]byte, error) {
	sign := func(u string) (string, error) { return c.signer.SignPayload(u, c.kid, nil) }

	body, err := sign(url)
	if err != nil {
		return nil, acmeerr.Wrap("download", acmeerr.Unknown, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte(body)))
	if err != nil {
		return nil, acmeerr.Wrap("download", acmeerr.Connection, err)
	}
	req.Header.Set("Content-Type", "application/jose+json")
	req.Header.Set("Accept", "application/pem-certificate-chain")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, acmeerr.Wrap("download", acmeerr.Connection, err)
	}
	defer resp.Body.Close()
	c.nonce.UpdateFromResponse(resp)

	if resp.StatusCode >= 400 {
		return nil, acmeerr.FromResponse("download", resp)
	}

	chain, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, acmeerr.Wrap("download", acmeerr.Unknown, err)
	}
	return chain, nil
}

// locationOf reads the Location header an account or order creation
// response carries its new resource URL in.
func locationOf(resp *http.Response) (string, error) {
	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", fmt.Errorf("acme: response carried no Location header")
	}
	return loc, nil
}
