package codec

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/edgeauth/fireauth/internal/testutil"
)

func TestEncodeDecodeSegmentRoundTrip(t *testing.T) {
	type payload struct {
		Sub string `json:"sub"`
		Exp int64  `json:"exp"`
	}
	want := payload{Sub: "user-1", Exp: 123}

	encoded, err := EncodeSegment(want)
	if err != nil {
		t.Fatalf("EncodeSegment() error = %v", err)
	}

	var got payload
	if err := DecodeSegment(encoded, &got); err != nil {
		t.Fatalf("DecodeSegment() error = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestParsePKCS8PrivateKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("MarshalPKCS8PrivateKey() error = %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	got, err := ParsePKCS8PrivateKey(pemBytes)
	if err != nil {
		t.Fatalf("ParsePKCS8PrivateKey() error = %v", err)
	}
	if !got.Equal(key) {
		t.Errorf("parsed key does not match original")
	}
}

func TestParsePKCS8PrivateKeyInvalid(t *testing.T) {
	if _, err := ParsePKCS8PrivateKey([]byte("not a key")); err == nil {
		t.Fatal("expected error for invalid PEM input")
	}
}

func TestParseRSAPublicKeyFromCertificate(t *testing.T) {
	key := testutil.GenerateRSAKey(t)
	cert := testutil.SelfSignedCert(t, key)
	pub, err := ParseRSAPublicKeyFromCertificate(cert)
	if err != nil {
		t.Fatalf("ParseRSAPublicKeyFromCertificate() error = %v", err)
	}
	if pub == nil {
		t.Fatal("expected non-nil public key")
	}
}
