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
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
)

// BuildCSR builds a PKCS#10 CSR for a single DNS identifier, signed by
// subjectKey. RFC 8555 §7.4 requires the identifiers authorized by the
// order to appear in the CSR; a CN is not required but CAs commonly still
// expect it, so both CN and the SAN extension carry the domain.
// Grounded on the teacher's CreateCert, which builds the same
// pkix.Name{CommonName: domain} request; the SAN entry is this module's
// addition since the teacher predates that recommendation.
func BuildCSR(domain string, subjectKey *rsa.PrivateKey) ([]byte, error) {
	template := &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: domain},
		DNSNames: []string{domain},
	}
	return x509.CreateCertificateRequest(rand.Reader, template, subjectKey)
}
