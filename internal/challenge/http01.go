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

// Package challenge implements the RFC 8555 §8.3 HTTP-01 responder: a
// transient HTTP server bound to port 80 that answers exactly one path
// with the key authorization while the CA validates the client.
//
// Grounded on the teacher's dns.go, whose DNSChallengeRecord computes the
// same "token '.' thumbprint" key authorization for a DNS-01 TXT record;
// here the raw key authorization is served directly over HTTP instead of
// being hashed into a TXT value, since HTTP-01 is the only challenge type
// this core implements.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/rfjacob/acmeclient/internal/acmeerr"
)

const wellKnownPrefix = "/.well-known/acme-challenge/"

// Responder serves a single token's key authorization on port 80 for the
// duration of challenge validation. The zero value is not usable; build
// one with New over a listener obtained from Bind.
type Responder struct {
	token            string
	keyAuthorization string

	listener net.Listener
	server   *http.Server
	done     chan struct{}
}

// Bind reserves the well-known HTTP-01 port ahead of any other ACME
// traffic. It must run before an account or order is created: once an
// account exists on the CA there is no way to undo that registration, so
// a port-80 conflict has to surface before the first authenticated
// request is ever sent, not after. The caller passes the returned
// listener to New once the challenge token is known, or closes it
// directly if issuance is abandoned first.
func Bind() (net.Listener, error) {
	ln, err := net.Listen("tcp", ":80")
	if err != nil {
		return nil, acmeerr.Wrap("http01", acmeerr.PortUnavailable, err)
	}
	return ln, nil
}

// New attaches a token and its key authorization to an already-bound
// listener (typically from Bind, or an ephemeral one in tests) and
// returns a Responder ready to Start.
func New(ln net.Listener, token, keyAuthorization string) *Responder {
	r := &Responder{
		token:            token,
		keyAuthorization: keyAuthorization,
		listener:         ln,
		done:             make(chan struct{}),
	}
	r.server = &http.Server{Handler: http.HandlerFunc(r.serve)}
	return r
}

// Addr returns the bound listener's address, mainly useful in tests that
// don't run against the real :80.
func (r *Responder) Addr() net.Addr { return r.listener.Addr() }

// Start begins accepting connections on a background goroutine. By the
// time Start returns, the listener is already bound (from Bind), so the
// driver may send the "ready" POST immediately afterward.
func (r *Responder) Start() {
	go func() {
		defer close(r.done)
		err := r.server.Serve(r.listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			// The listener died under us after validation had already
			// begun; there's no one left to report this to but the log.
			fmt.Printf("http01: responder stopped: %v\n", err)
		}
	}()
}

// Stop tears the responder down, releasing the port. It must be called on
// every path out of the driver, success or failure, so the socket is
// never leaked on an error path.
func (r *Responder) Stop(ctx context.Context) error {
	err := r.server.Shutdown(ctx)
	<-r.done
	return err
}

func (r *Responder) serve(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet || req.URL.Path != wellKnownPrefix+r.token {
		http.NotFound(w, req)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, r.keyAuthorization)
}
