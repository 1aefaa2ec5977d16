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

// Command acmeclient obtains a certificate for a single DNS identifier
// from an ACME v2 (RFC 8555) certificate authority and exits. It is not a
// daemon, a renewal scheduler, or a certificate store — one invocation
// performs one issuance.
//
// Grounded on the teacher's main.go: the same stdlib flag/log wiring,
// generalized from a Kubernetes controller's startup sequence (bolt,
// pprof, signal handling, a reconciliation loop) down to a single-shot run.
package main

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/rfjacob/acmeclient/internal/acmeerr"
	"github.com/rfjacob/acmeclient/internal/issuer"
)

const defaultServer = "https://acme-v02.api.letsencrypt.org/directory"

var (
	email      string
	domain     string
	server     = defaultServer
	privateKey string
	publicKey  string
	csrPath    string
	standalone bool
	verbose    bool
)

func main() {
	flag.StringVar(&email, "email", "", "Contact email for account registration (required).")
	flag.StringVar(&domain, "domain", "", "The single DNS identifier to obtain a certificate for (required).")
	flag.StringVar(&server, "server", server, "ACME directory URL.")
	flag.StringVar(&privateKey, "private-key", "", "Path to a PEM-encoded subject private key (optional, pairs with -public-key).")
	flag.StringVar(&publicKey, "public-key", "", "Path to a PEM-encoded subject public key (optional, pairs with -private-key).")
	flag.StringVar(&csrPath, "csr-path", "", "Path to a pre-built PEM CSR (optional, requires -private-key and -public-key).")
	flag.BoolVar(&standalone, "standalone", false, "Serve the HTTP-01 challenge with a built-in responder on port 80.")
	flag.BoolVar(&verbose, "verbose", false, "Enable info-level logging.")
	flag.Parse()

	flags := log.LstdFlags
	if verbose {
		flags |= log.Lshortfile
	}
	logger := log.New(os.Stderr, "", flags)

	if err := run(logger); err != nil {
		logger.Printf("acmeclient: %v", err)
		os.Exit(1)
	}
}

func run(logger *log.Logger) error {
	if email == "" || domain == "" {
		flag.Usage()
		return errors.New("-email and -domain are required")
	}
	if (csrPath != "") && (privateKey == "" || publicKey == "") {
		return errors.New("-csr-path requires both -private-key and -public-key")
	}

	// Stage-level lines are printed only with -verbose; a failure is always
	// reported through logger by main.
	infoLogger := logger
	if !verbose {
		infoLogger = log.New(io.Discard, "", 0)
	}

	cfg := issuer.Config{
		DirectoryURL: server,
		Domain:       domain,
		Email:        email,
		Standalone:   standalone,
		OutputDir:    ".",
		Logger:       infoLogger,
	}

	if privateKey != "" {
		key, err := loadRSAPrivateKeyPEM(privateKey)
		if err != nil {
			return fmt.Errorf("loading -private-key: %w", err)
		}
		cfg.SubjectKey = key
	}

	if csrPath != "" {
		csrDER, err := loadCSRPEM(csrPath)
		if err != nil {
			return fmt.Errorf("loading -csr-path: %w", err)
		}
		cfg.CSR = csrDER
	}

	ctx := context.Background()
	result, err := issuer.Run(ctx, cfg)
	if err != nil {
		var acmeErr *acmeerr.Error
		if errors.As(err, &acmeErr) {
			return fmt.Errorf("%s: %s — %s", acmeErr.Stage, acmeErr.Kind, errDetail(acmeErr))
		}
		return err
	}

	infoLogger.Printf("Wrote my_cert.crt and cert_chain.crt (%d bytes)", len(result.CertificateChainPEM))
	return nil
}

func errDetail(e *acmeerr.Error) string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return "no further detail"
}

// loadRSAPrivateKeyPEM reads a PKCS#1 or PKCS#8 RSA private key from a PEM
// file. This is the file-I/O collaborator the issuance core itself never
// performs; the core only ever consumes *rsa.PrivateKey values.
func loadRSAPrivateKeyPEM(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%s: no PEM block found", path)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	generic, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%s: not a PKCS#1 or PKCS#8 RSA key: %w", path, err)
	}
	key, ok := generic.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%s: key is not RSA", path)
	}
	return key, nil
}

func loadCSRPEM(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%s: no PEM block found", path)
	}
	return block.Bytes, nil
}
