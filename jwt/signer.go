// Copyright 2017 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package jwt

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/edgeauth/fireauth/codec"
	"github.com/edgeauth/fireauth/ferr"
)

// Signer mints RS256-signed compact JWS tokens from an RSA private key,
// mirroring the composition the teacher's stdSigner and serviceAccountSigner
// both perform by hand: base64url(header).base64url(payload), then an
// RSASSA-PKCS1-v1_5 SHA-256 signature over that string.
type Signer struct {
	privateKey *rsa.PrivateKey
	keyID      string
}

// NewSigner parses a PEM-encoded PKCS#8 (or PKCS#1) RSA private key and
// returns a Signer that mints tokens with the given optional key ID.
func NewSigner(pemPrivateKey []byte, keyID string) (*Signer, error) {
	key, err := codec.ParsePKCS8PrivateKey(pemPrivateKey)
	if err != nil {
		return nil, err
	}
	return &Signer{privateKey: key, keyID: keyID}, nil
}

// Sign encodes payload as the JWT body, signs it under RS256 and returns
// the compact header.payload.signature string.
func (s *Signer) Sign(payload interface{}) (string, error) {
	header, err := codec.EncodeSegment(defaultHeader(s.keyID))
	if err != nil {
		return "", ferr.Wrap(ferr.SignFailed, err, "encoding jwt header")
	}
	body, err := codec.EncodeSegment(payload)
	if err != nil {
		return "", ferr.Wrap(ferr.SignFailed, err, "encoding jwt payload")
	}

	signingInput := header + "." + body
	sig, err := s.signBytes([]byte(signingInput))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s.%s", signingInput, base64.RawURLEncoding.EncodeToString(sig)), nil
}

func (s *Signer) signBytes(data []byte) ([]byte, error) {
	hash := sha256.New()
	hash.Write(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.privateKey, crypto.SHA256, hash.Sum(nil))
	if err != nil {
		return nil, ferr.Wrap(ferr.SignFailed, err, "signing jwt")
	}
	return sig, nil
}
