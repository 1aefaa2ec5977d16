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

// Package issuer orchestrates one end-to-end certificate issuance: the
// full Directory -> Account -> Order -> Authorization -> Challenge ->
// Polling -> Finalize -> Download -> Persist walk of RFC 8555, generalized
// from the teacher's processor.go (processCertificate), which drives the
// same find-or-create-account / authorize / accept / create-cert /
// persist sequence for DNS-01 against Kubernetes. This version speaks
// RFC 8555 v2 against HTTP-01 and the local filesystem.
package issuer

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"log"
	"time"

	"github.com/rfjacob/acmeclient/internal/acme"
	"github.com/rfjacob/acmeclient/internal/acmeerr"
	"github.com/rfjacob/acmeclient/internal/challenge"
	"github.com/rfjacob/acmeclient/internal/httpclient"
	"github.com/rfjacob/acmeclient/internal/jose"
	"github.com/rfjacob/acmeclient/internal/persist"
)

// subjectKeyBits is the minimum RSA modulus size this core requires for
// both the account key and the subject key.
const subjectKeyBits = 2048

// Config is everything a single issuance run needs. CLI parsing, file
// loading, and logging configuration are the caller's job; Config
// consumes only in-memory material.
type Config struct {
	DirectoryURL string
	Domain       string
	Email        string

	// SubjectKey is the key the issued certificate binds to. If nil and CSR
	// is not set, a fresh RSA-2048 key is generated and persisted alongside
	// the certificate.
	SubjectKey *rsa.PrivateKey

	// CSR is a pre-built DER-encoded CSR. If set, it is used verbatim and
	// SubjectKey is only passed through to Result; no key is generated and
	// no key pair is persisted.
	CSR []byte

	// Standalone must be true; this core only knows how to validate via
	// its own HTTP-01 responder bound to port 80.
	Standalone bool

	OutputDir string
	Logger    *log.Logger
}

// Result is what a successful Run produced.
type Result struct {
	CertificateChainPEM []byte
	SubjectKey          *rsa.PrivateKey
}

// Run performs one issuance and returns once the certificate has been
// downloaded and persisted, or a stage has failed.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	if !cfg.Standalone {
		return nil, acmeerr.New("startup", acmeerr.Unauthorized, "this core only validates via --standalone's built-in HTTP-01 responder")
	}
	if cfg.SubjectKey != nil && cfg.SubjectKey.N.BitLen() < subjectKeyBits {
		return nil, acmeerr.New("startup", acmeerr.BadPublicKey,
			fmt.Sprintf("subject key is %d bits; at least %d required", cfg.SubjectKey.N.BitLen(), subjectKeyBits))
	}

	// Bind the challenge port before anything touches the network: once an
	// account exists on the CA there is no way to undo that registration,
	// so a port-80 conflict has to surface before the first request is
	// ever sent, not after.
	logger.Print("Binding HTTP-01 responder port")
	listener, err := challenge.Bind()
	if err != nil {
		return nil, err
	}
	closeListener := true
	defer func() {
		if closeListener {
			listener.Close()
		}
	}()

	httpClient, err := httpclient.New()
	if err != nil {
		return nil, acmeerr.Wrap("startup", acmeerr.Connection, err)
	}

	logger.Printf("Discovering directory at %s", cfg.DirectoryURL)
	dir, nonceMgr, err := acme.Discover(ctx, httpClient, cfg.DirectoryURL)
	if err != nil {
		return nil, err
	}

	accountKey, err := rsa.GenerateKey(rand.Reader, subjectKeyBits)
	if err != nil {
		return nil, acmeerr.Wrap("startup", acmeerr.Unknown, err)
	}
	client := acme.NewClient(httpClient, dir, nonceMgr, accountKey)

	logger.Printf("Registering account for %s", cfg.Email)
	account, err := client.NewAccount(ctx, cfg.Email)
	if err != nil {
		return nil, err
	}
	logger.Printf("Account %s: status=%s", account.Kid, account.Status)

	logger.Printf("Creating order for %s", cfg.Domain)
	order, err := client.NewOrder(ctx, cfg.Domain)
	if err != nil {
		return nil, err
	}
	if len(order.Authorizations) == 0 {
		return nil, acmeerr.New("newOrder", acmeerr.Malformed, "order carried no authorizations")
	}

	authz, err := client.FetchAuthorization(ctx, order.Authorizations[0])
	if err != nil {
		return nil, err
	}

	ch, err := acme.EnsureHTTP01(authz)
	if err != nil {
		return nil, err
	}

	keyAuth := jose.KeyAuthorization(ch.Token, &accountKey.PublicKey)
	responder := challenge.New(listener, ch.Token, keyAuth)
	responder.Start()
	closeListener = false
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := responder.Stop(stopCtx); err != nil {
			logger.Printf("http01: responder shutdown: %v", err)
		}
	}()

	logger.Printf("Serving HTTP-01 challenge for token %s", ch.Token)
	if _, err := client.RespondToChallenge(ctx, ch.URL); err != nil {
		return nil, err
	}

	logger.Printf("Polling authorization %s", order.Authorizations[0])
	if _, err := client.PollAuthorization(ctx, order.Authorizations[0]); err != nil {
		return nil, err
	}
	logger.Printf("Authorization valid for %s", cfg.Domain)

	subjectKey := cfg.SubjectKey
	csrDER := cfg.CSR
	generatedKey := false
	if csrDER == nil {
		if subjectKey == nil {
			subjectKey, err = rsa.GenerateKey(rand.Reader, subjectKeyBits)
			if err != nil {
				return nil, acmeerr.Wrap("finalize", acmeerr.Unknown, err)
			}
			generatedKey = true
		}
		csrDER, err = acme.BuildCSR(cfg.Domain, subjectKey)
		if err != nil {
			return nil, acmeerr.Wrap("finalize", acmeerr.BadCSR, err)
		}
	}

	logger.Print("Finalizing order")
	orderURL := order.URL
	order, err = client.Finalize(ctx, order.Finalize, csrDER)
	if err != nil {
		return nil, err
	}

	if order.Status == acme.StatusProcessing {
		logger.Print("Order processing; polling until valid")
		order, err = client.PollOrder(ctx, orderURL)
		if err != nil {
			return nil, err
		}
	}

	if order.Status != acme.StatusValid || order.Certificate == "" {
		return nil, acmeerr.New("finalize", acmeerr.OrderNotReady,
			fmt.Sprintf("order left status=%q without a certificate URL", order.Status))
	}

	logger.Printf("Downloading certificate from %s", order.Certificate)
	chain, err := client.DownloadCertificate(ctx, order.Certificate)
	if err != nil {
		return nil, err
	}

	if err := persist.WriteCertificates(cfg.OutputDir, chain); err != nil {
		return nil, acmeerr.Wrap("persist", acmeerr.Unknown, err)
	}
	if generatedKey {
		if err := persist.WriteSubjectKeyPair(cfg.OutputDir, subjectKey); err != nil {
			return nil, acmeerr.Wrap("persist", acmeerr.Unknown, err)
		}
	}
	logger.Print("Issuance complete")

	return &Result{CertificateChainPEM: chain, SubjectKey: subjectKey}, nil
}
