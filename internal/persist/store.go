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

// Package persist writes the issuance artifacts to disk: the leaf
// certificate, the full chain, and optionally the subject key pair.
//
// Grounded on the teacher's processor.go, which PEM-encodes the subject
// key with pem.EncodeToMemory before handing it to Kubernetes; this
// façade keeps that encoding step but writes the result to disk instead
// of into a Secret, since this core has no cluster to talk to.
package persist

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
)

const filePerm = 0o600

// crlf rewrites a PEM block's line endings to CRLF for both certificate
// artifacts.
func crlf(b []byte) []byte {
	return bytes.ReplaceAll(b, []byte("\n"), []byte("\r\n"))
}

// firstPEMBlock returns the bytes of the first PEM block in chain — the
// leaf certificate, since the CA always returns the chain leaf-first,
// followed by intermediates (RFC 8555 §7.4.2).
func firstPEMBlock(chain []byte) ([]byte, bool) {
	block, _ := pem.Decode(chain)
	if block == nil {
		return nil, false
	}
	return pem.EncodeToMemory(block), true
}

// WriteCertificates writes my_cert.crt (the leaf only) and cert_chain.crt
// (the full chain as received) into dir.
func WriteCertificates(dir string, chainPEM []byte) error {
	leaf, ok := firstPEMBlock(chainPEM)
	if !ok {
		leaf = chainPEM
	}

	if err := os.WriteFile(filepath.Join(dir, "my_cert.crt"), crlf(leaf), filePerm); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "cert_chain.crt"), crlf(chainPEM), filePerm)
}

// WriteSubjectKeyPair writes priv.pem and pub.pem. It writes
// unconditionally; issuer.Run calls it only for a subject key it generated
// itself.
func WriteSubjectKeyPair(dir string, key *rsa.PrivateKey) error {
	privBlock := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	if err := os.WriteFile(filepath.Join(dir, "priv.pem"), pem.EncodeToMemory(privBlock), filePerm); err != nil {
		return err
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return err
	}
	pubBlock := &pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}
	return os.WriteFile(filepath.Join(dir, "pub.pem"), pem.EncodeToMemory(pubBlock), filePerm)
}
