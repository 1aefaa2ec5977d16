package acme

import (
	"fmt"
	"net/http"
	"sync"
)

// replayNonceHeader is the header every ACME response may carry a fresh
// anti-replay nonce in (RFC 8555 §6.5).
const replayNonceHeader = "Replay-Nonce"

// NonceManager holds the single next usable anti-replay nonce, seeded from
// newNonce and refreshed from every response (RFC 8555 §7.2).
// Grounded on other_examples' cpu-acmeshell nonce.go: a fetch-once,
// consume-once store rather than a pool, since the driver never issues
// more than one request at a time.
type NonceManager struct {
	client      *http.Client
	newNonceURL string

	mu      sync.Mutex
	current string
}

// NewNonceManager builds a manager bound to the directory's newNonce URL.
// Call Seed before the first signed request.
func NewNonceManager(client *http.Client, newNonceURL string) *NonceManager {
	return &NonceManager{client: client, newNonceURL: newNonceURL}
}

// Seed fetches the initial nonce via HEAD newNonce (RFC 8555 §7.2).
func (m *NonceManager) Seed() error {
	resp, err := m.client.Head(m.newNonceURL)
	if err != nil {
		return fmt.Errorf("nonce: HEAD newNonce: %w", err)
	}
	defer resp.Body.Close()

	nonce := resp.Header.Get(replayNonceHeader)
	if nonce == "" {
		return fmt.Errorf("nonce: newNonce response carried no %s header", replayNonceHeader)
	}
	m.Set(nonce)
	return nil
}

// Set overwrites the current nonce from a response header. A no-op if the
// response carried none, so a request that didn't refresh the nonce never
// blanks out a still-valid one.
func (m *NonceManager) Set(nonce string) {
	if nonce == "" {
		return
	}
	m.mu.Lock()
	m.current = nonce
	m.mu.Unlock()
}

// UpdateFromResponse pulls Replay-Nonce out of resp, if present. Every
// response, success or failure, must be run through this before the next
// request is built: a server is free to invalidate a nonce on use even when
// the request that spent it failed.
func (m *NonceManager) UpdateFromResponse(resp *http.Response) {
	if resp == nil {
		return
	}
	m.Set(resp.Header.Get(replayNonceHeader))
}

// Nonce implements jose.NonceSource: it hands out the current nonce and
// consumes it, so the same nonce is never signed into two requests.
func (m *NonceManager) Nonce() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == "" {
		return "", fmt.Errorf("nonce: no nonce available; call Seed first")
	}
	n := m.current
	m.current = ""
	return n, nil
}
