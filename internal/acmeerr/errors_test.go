package acmeerr

import (
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestFromResponse(t *testing.T) {
	tests := []struct {
		body       string
		statusCode int
		wantKind   Kind
		wantDetail string
	}{
		{"", 500, Unknown, "HTTP 500: "},
		{`{"type":"urn:ietf:params:acme:error:tls","detail":"TLS err"}`, 500, TLS, "TLS err"},
		{`{"type":"urn:ietf:params:acme:error:badCSR","detail":"bad CSR","status":400}`, 400, BadCSR, "bad CSR"},
		{`{"type":"urn:ietf:params:acme:error:rateLimited","detail":"too many requests"}`, 429, RateLimited, "too many requests"},
		{`not json`, 400, Unknown, "HTTP 400: not json"},
	}

	for i, test := range tests {
		resp := &http.Response{
			Body:       io.NopCloser(strings.NewReader(test.body)),
			StatusCode: test.statusCode,
		}
		err := FromResponse("test-stage", resp)
		if err.Kind != test.wantKind {
			t.Errorf("%d: Kind = %q; want %q", i, err.Kind, test.wantKind)
		}
		if err.Detail != test.wantDetail {
			t.Errorf("%d: Detail = %q; want %q", i, err.Detail, test.wantDetail)
		}
		if err.Stage != "test-stage" {
			t.Errorf("%d: Stage = %q; want %q", i, err.Stage, "test-stage")
		}
	}
}

func TestIsBadNonce(t *testing.T) {
	if !IsBadNonce(&Error{Kind: BadNonce}) {
		t.Error("IsBadNonce(BadNonce) = false; want true")
	}
	if IsBadNonce(&Error{Kind: Malformed}) {
		t.Error("IsBadNonce(Malformed) = true; want false")
	}
	if IsBadNonce(io.EOF) {
		t.Error("IsBadNonce(io.EOF) = true; want false")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(io.EOF) {
		t.Error("bare transport error should be retryable")
	}
	if !IsRetryable(&Error{Kind: ServerInternal, Problem: &Problem{Status: 500}}) {
		t.Error("5xx problem should be retryable")
	}
	if IsRetryable(&Error{Kind: Malformed, Problem: &Problem{Status: 400}}) {
		t.Error("4xx problem should not be retryable")
	}
}
