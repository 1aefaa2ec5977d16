package jose

import (
	"crypto/rsa"
	"math/big"
	"testing"
)

// TestThumbprint reuses the RFC 7638 appendix example key, the same vector
// google-acme's jws_test.go checks its hand-rolled thumbprint against.
func TestThumbprint(t *testing.T) {
	const base64N = "0vx7agoebGcQSuuPiLJXZptN9nndrQmbXEps2aiAFbWhM78LhWx4cbbfAAt" +
		"VT86zwu1RK7aPFFxuhDR1L6tSoc_BJECPebWKRXjBZCiFV4n3oknjhMstn6" +
		"4tZ_2W-5JsGY4Hc5n9yBXArwl93lqt7_RN5w6Cf0h4QyQ5v-65YGjQR0_FD" +
		"W2QvzqY368QQMicAtaSqzs8KJZgnYb9c7d0zgdAZHzu6qMQvRL5hajrn1n9" +
		"1CbOpbISD08qNLyrdkt-bFTWhAI4vMQFh6WeZu0fM4lFd2NcRwr3XPksINH" +
		"aQ-G_xBniIqbw0Ls1jF44-csFCur-kEgU8awapJzKnqDKgw"
	const expected = "NzbLsXh8uDCcd-6MNwXF4W_7noWXFZAfHkxZsRGC9Xs"

	nBytes, err := b64Decode(base64N)
	if err != nil {
		t.Fatalf("decode N: %v", err)
	}
	pub := &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: 65537}

	if got := Thumbprint(pub); got != expected {
		t.Errorf("Thumbprint = %q; want %q", got, expected)
	}
}

func TestKeyAuthorization(t *testing.T) {
	pub := &rsa.PublicKey{N: big.NewInt(12345), E: 65537}
	got := KeyAuthorization("token123", pub)
	want := "token123." + Thumbprint(pub)
	if got != want {
		t.Errorf("KeyAuthorization = %q; want %q", got, want)
	}
}

func TestThumbprintStableAcrossCalls(t *testing.T) {
	pub := &rsa.PublicKey{N: big.NewInt(999999937), E: 65537}
	a := Thumbprint(pub)
	b := Thumbprint(pub)
	if a != b {
		t.Errorf("thumbprint not stable: %q != %q", a, b)
	}
}
