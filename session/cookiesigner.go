// Package session implements the signed-cookie session layer: the HMAC
// cookie signer, the fixed-attribute-order Set-Cookie serializer, and the
// request middleware that drives the login/logout/verify/refresh state
// machine. Grounded on 0cd44af5_wisbric-nightowl's SessionManager
// try-each-key shape, generalized from JOSE compact serialization to the
// bespoke `payload_b64.signature_b64` wire format spec.md specifies.
package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strings"

	"github.com/edgeauth/fireauth/codec"
	"github.com/edgeauth/fireauth/ferr"
)

func rawBase64URL(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// CookieSigner signs and verifies payloads against an ordered list of HMAC
// keys: keys[0] signs new cookies, every key in the list is accepted on
// verify. This is how rotation works — push a new head, keep the old key in
// the list until every outstanding cookie signed under it has expired.
type CookieSigner struct {
	keys [][]byte
}

// NewCookieSigner builds a CookieSigner. keys must be non-empty; keys[0] is
// the active signing key.
func NewCookieSigner(keys ...[]byte) (*CookieSigner, error) {
	if len(keys) == 0 {
		return nil, ferr.New(ferr.InvalidArgument, "cookieSignatureKeys must be non-empty")
	}
	return &CookieSigner{keys: keys}, nil
}

// Sign encodes payload as base64url(JSON) and appends
// base64url(HMAC-SHA256(base64url(JSON), keys[0])).
func (s *CookieSigner) Sign(payload interface{}) (string, error) {
	body, err := codec.EncodeSegment(payload)
	if err != nil {
		return "", ferr.Wrap(ferr.InternalError, err, "encoding cookie payload")
	}
	return body + "." + s.macFor(body, s.keys[0]), nil
}

// Verify splits token on its last '.', and accepts it if the HMAC over the
// body matches any key in the list, trying keys in order. out receives the
// decoded payload on success.
func (s *CookieSigner) Verify(token string, out interface{}) error {
	idx := strings.LastIndex(token, ".")
	if idx < 0 {
		return ferr.New(ferr.InvalidCredential, "malformed session cookie")
	}
	body, mac := token[:idx], token[idx+1:]

	ok := false
	for _, key := range s.keys {
		want := s.macFor(body, key)
		if subtle.ConstantTimeCompare([]byte(want), []byte(mac)) == 1 {
			ok = true
			break
		}
	}
	if !ok {
		return ferr.New(ferr.InvalidCredential, "session cookie signature does not match any known key")
	}

	if err := codec.DecodeSegment(body, out); err != nil {
		return ferr.Wrap(ferr.InvalidCredential, err, "decoding cookie payload")
	}
	return nil
}

func (s *CookieSigner) macFor(body string, key []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(body))
	return rawBase64URL(h.Sum(nil))
}
