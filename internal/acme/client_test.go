package acme

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

// decodeJWSProtected decodes a flattened-JWS request body's protected
// header into v, mirroring google-acme's acme_test.go decodeJWSRequest
// helper (adapted here to the header rather than the payload, since most
// of these tests assert on alg/jwk/kid rather than the body).
func decodeJWSProtected(t *testing.T, v interface{}, r *http.Request) {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		t.Fatal(err)
	}
	var flat struct {
		Protected string `json:"protected"`
	}
	if err := json.Unmarshal(body, &flat); err != nil {
		t.Fatal(err)
	}
	hdr, err := base64.RawURLEncoding.DecodeString(flat.Protected)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(hdr, v); err != nil {
		t.Fatal(err)
	}
}

var nonceCounter atomic.Int64

func withNonce(w http.ResponseWriter) {
	w.Header().Set("Replay-Nonce", fmt.Sprintf("nonce-%d", nonceCounter.Add(1)))
}

func TestDiscoverSeedsNonce(t *testing.T) {
	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead:
			withNonce(w)
		case r.URL.Path == "/directory":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"newNonce":%q,"newAccount":"https://x/new-acct","newOrder":"https://x/new-order"}`, ts.URL+"/new-nonce")
		}
	}))
	defer ts.Close()

	dir, nonceMgr, err := Discover(context.Background(), ts.Client(), ts.URL+"/directory")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if dir.NewAccount != "https://x/new-acct" {
		t.Errorf("NewAccount = %q", dir.NewAccount)
	}
	if _, err := nonceMgr.Nonce(); err != nil {
		t.Errorf("nonce manager not seeded: %v", err)
	}
}

func TestNewAccountCapturesKidAndSendsJWK(t *testing.T) {
	var sawJWK bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			withNonce(w)
			return
		}

		var h struct {
			Alg   string          `json:"alg"`
			Nonce string          `json:"nonce"`
			JWK   json.RawMessage `json:"jwk"`
		}
		decodeJWSProtected(t, &h, r)
		if h.Alg != "RS256" {
			t.Errorf("alg = %q; want RS256", h.Alg)
		}
		if h.JWK == nil {
			t.Error("expected embedded jwk")
		} else {
			sawJWK = true
		}

		withNonce(w)
		w.Header().Set("Location", "https://example.test/acme/acct/7")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"status":"valid","orders":"https://example.test/acme/acct/7/orders"}`)
	}))
	defer ts.Close()

	key := testKey(t)
	nonceMgr := NewNonceManager(ts.Client(), ts.URL)
	if err := nonceMgr.Seed(); err != nil {
		t.Fatalf("seed: %v", err)
	}
	c := NewClient(ts.Client(), Directory{NewAccount: ts.URL}, nonceMgr, key)

	acct, err := c.NewAccount(context.Background(), "a@example.test")
	if err != nil {
		t.Fatalf("NewAccount: %v", err)
	}
	if acct.Kid != "https://example.test/acme/acct/7" {
		t.Errorf("Kid = %q", acct.Kid)
	}
	if c.Kid() != acct.Kid {
		t.Errorf("client Kid = %q; want %q", c.Kid(), acct.Kid)
	}
	if !sawJWK {
		t.Error("request never carried an embedded jwk")
	}
}

func TestBadNonceIsRetriedOnce(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			withNonce(w)
			return
		}
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			withNonce(w)
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"type":"urn:ietf:params:acme:error:badNonce","detail":"stale nonce"}`)
			return
		}
		withNonce(w)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"status":"pending","authorizations":["https://example.test/authz/1"],"finalize":"https://example.test/finalize/1","identifiers":[{"type":"dns","value":"example.test"}]}`)
	}))
	defer ts.Close()

	key := testKey(t)
	nonceMgr := NewNonceManager(ts.Client(), ts.URL)
	if err := nonceMgr.Seed(); err != nil {
		t.Fatalf("seed: %v", err)
	}
	c := NewClient(ts.Client(), Directory{NewOrder: ts.URL}, nonceMgr, key)
	c.kid = "https://example.test/acme/acct/1"

	order, err := c.NewOrder(context.Background(), "example.test")
	if err != nil {
		t.Fatalf("NewOrder after badNonce retry: %v", err)
	}
	if order.Status != StatusPending {
		t.Errorf("Status = %q; want pending", order.Status)
	}
	if calls != 2 {
		t.Errorf("server saw %d POSTs; want 2 (one failure, one retry)", calls)
	}
}

func TestDownloadCertificateRejectsEmptyChain(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			withNonce(w)
			return
		}
		withNonce(w)
		w.Header().Set("Content-Type", "application/pem-certificate-chain")
	}))
	defer ts.Close()

	key := testKey(t)
	nonceMgr := NewNonceManager(ts.Client(), ts.URL)
	if err := nonceMgr.Seed(); err != nil {
		t.Fatalf("seed: %v", err)
	}
	c := NewClient(ts.Client(), Directory{}, nonceMgr, key)
	c.kid = "https://example.test/acme/acct/1"

	if _, err := c.DownloadCertificate(context.Background(), ts.URL); err == nil {
		t.Fatal("expected error for empty chain")
	}
}

func TestEnsureHTTP01MissingChallenge(t *testing.T) {
	authz := &Authorization{
		Identifier: Identifier{Type: "dns", Value: "example.test"},
		Challenges: []Challenge{{Type: "dns-01", URL: "https://x/chal/1", Token: "tok"}},
	}
	if _, err := EnsureHTTP01(authz); err == nil {
		t.Fatal("expected NoHttpChallengePresent error")
	}
}

func TestEnsureHTTP01Present(t *testing.T) {
	authz := &Authorization{
		Challenges: []Challenge{
			{Type: "dns-01", URL: "https://x/chal/1"},
			{Type: "http-01", URL: "https://x/chal/2", Token: "tok"},
		},
	}
	ch, err := EnsureHTTP01(authz)
	if err != nil {
		t.Fatalf("EnsureHTTP01: %v", err)
	}
	if ch.URL != "https://x/chal/2" {
		t.Errorf("URL = %q", ch.URL)
	}
}
