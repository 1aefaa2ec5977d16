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

// Package acmeerr maps ACME problem documents and transport failures onto a
// finite set of error kinds, per RFC 8555 section 6.7.
package acmeerr

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Kind is one of the finite error kinds a failing stage can surface.
type Kind string

const (
	AccountDoesNotExist     Kind = "accountDoesNotExist"
	AlreadyRevoked          Kind = "alreadyRevoked"
	BadCSR                  Kind = "badCSR"
	BadNonce                Kind = "badNonce"
	BadPublicKey            Kind = "badPublicKey"
	BadRevocationReason     Kind = "badRevocationReason"
	BadSignatureAlgorithm   Kind = "badSignatureAlgorithm"
	CAA                     Kind = "caa"
	Compound                Kind = "compound"
	Connection              Kind = "connection"
	DNS                     Kind = "dns"
	ExternalAccountRequired Kind = "externalAccountRequired"
	IncorrectResponse       Kind = "incorrectResponse"
	InvalidContact          Kind = "invalidContact"
	Malformed               Kind = "malformed"
	OrderNotReady           Kind = "orderNotReady"
	RateLimited             Kind = "rateLimited"
	RejectedIdentifier      Kind = "rejectedIdentifier"
	ServerInternal          Kind = "serverInternal"
	TLS                     Kind = "tls"
	Unauthorized            Kind = "unauthorized"
	UnsupportedContact      Kind = "unsupportedContact"
	UnsupportedIdentifier   Kind = "unsupportedIdentifier"
	UserActionRequired      Kind = "userActionRequired"

	// Kinds with no RFC 8555 problem-document counterpart: local failures
	// this core detects on its own.
	NoHttpChallengePresent Kind = "noHttpChallengePresent"
	PortUnavailable        Kind = "portUnavailable"
	ValidationTimeout      Kind = "validationTimeout"
	Unknown                Kind = "unknown"
)

// urnPrefix is the namespace every RFC 8555 error type is published under.
const urnPrefix = "urn:ietf:params:acme:error:"

var urnToKind = map[string]Kind{
	urnPrefix + "accountDoesNotExist":     AccountDoesNotExist,
	urnPrefix + "alreadyRevoked":          AlreadyRevoked,
	urnPrefix + "badCSR":                 BadCSR,
	urnPrefix + "badNonce":                BadNonce,
	urnPrefix + "badPublicKey":            BadPublicKey,
	urnPrefix + "badRevocationReason":     BadRevocationReason,
	urnPrefix + "badSignatureAlgorithm":   BadSignatureAlgorithm,
	urnPrefix + "caa":                     CAA,
	urnPrefix + "compound":                Compound,
	urnPrefix + "connection":              Connection,
	urnPrefix + "dns":                     DNS,
	urnPrefix + "externalAccountRequired": ExternalAccountRequired,
	urnPrefix + "incorrectResponse":       IncorrectResponse,
	urnPrefix + "invalidContact":          InvalidContact,
	urnPrefix + "malformed":               Malformed,
	urnPrefix + "orderNotReady":           OrderNotReady,
	urnPrefix + "rateLimited":             RateLimited,
	urnPrefix + "rejectedIdentifier":      RejectedIdentifier,
	urnPrefix + "serverInternal":          ServerInternal,
	urnPrefix + "tls":                     TLS,
	urnPrefix + "unauthorized":            Unauthorized,
	urnPrefix + "unsupportedContact":      UnsupportedContact,
	urnPrefix + "unsupportedIdentifier":   UnsupportedIdentifier,
	urnPrefix + "userActionRequired":      UserActionRequired,
}

// Problem is an RFC 7807 problem document as ACME servers return it.
type Problem struct {
	Type        string          `json:"type"`
	Detail      string          `json:"detail"`
	Status      int             `json:"status"`
	Subproblems json.RawMessage `json:"subproblems,omitempty"`
}

// Error is a stage-tagged ACME failure.
type Error struct {
	Stage   string
	Kind    Kind
	Detail  string
	Problem *Problem
	Cause   error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s — %s", e.Stage, e.Kind, e.Detail)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s — %v", e.Stage, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a local (non-protocol) error for the given stage.
func New(stage string, kind Kind, detail string) *Error {
	return &Error{Stage: stage, Kind: kind, Detail: detail}
}

// Wrap attaches a stage and kind to an arbitrary underlying error, for
// transport or crypto failures that never produced a problem document.
func Wrap(stage string, kind Kind, cause error) *Error {
	return &Error{Stage: stage, Kind: kind, Cause: cause}
}

// FromResponse reads a non-2xx ACME response body as a problem document and
// classifies it into a Kind. If the body isn't a recognizable problem
// document, the raw body is carried in Detail and Kind is Unknown.
func FromResponse(stage string, resp *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var p Problem
	if err := json.Unmarshal(body, &p); err != nil || p.Type == "" {
		return &Error{
			Stage:  stage,
			Kind:   Unknown,
			Detail: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)),
		}
	}

	if p.Status == 0 {
		p.Status = resp.StatusCode
	}
	kind, ok := urnToKind[p.Type]
	if !ok {
		kind = Unknown
	}
	return &Error{Stage: stage, Kind: kind, Detail: p.Detail, Problem: &p}
}

// IsBadNonce reports whether err is a badNonce problem, the one kind the
// driver recovers from automatically.
func IsBadNonce(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == BadNonce
}

// IsRetryable reports whether the transport/server failure behind err
// should be retried once after a short delay.
func IsRetryable(err error) bool {
	e, ok := err.(*Error)
	if !ok {
		// Bare transport errors (connection refused, timeouts, ...) are
		// always worth one retry.
		return true
	}
	if e.Problem == nil {
		return true
	}
	return e.Problem.Status >= 500
}
