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

// Package codec implements the URL-safe base64 and PEM encodings shared by
// the JWT signer/verifier and the cookie signer. It exists as its own leaf
// package because both the jwt and session packages need it without
// depending on each other.
package codec

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"

	"github.com/edgeauth/fireauth/ferr"
)

// EncodeSegment JSON-marshals v and returns it as unpadded URL-safe base64,
// matching the compact-JWS segment encoding used throughout this module.
func EncodeSegment(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeSegment reverses EncodeSegment into v.
func DecodeSegment(s string, v interface{}) error {
	decoded, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return err
	}
	return json.NewDecoder(bytes.NewBuffer(decoded)).Decode(v)
}

// ParsePKCS8PrivateKey parses a PEM-encoded private key, accepting PKCS#8
// (the format Google service account JSON files use) and falling back to
// PKCS#1 for hand-rolled test keys.
func ParsePKCS8PrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	der := pemBytes
	if block != nil {
		der = block.Bytes
	}

	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		key, err = x509.ParsePKCS1PrivateKey(der)
		if err != nil {
			return nil, ferr.Wrap(ferr.CryptoKeyInvalid, err, "private key should be PEM-encoded PKCS#8 or PKCS#1")
		}
		return key.(*rsa.PrivateKey), nil
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, ferr.New(ferr.CryptoKeyInvalid, "private key is not an RSA key")
	}
	return rsaKey, nil
}

// ParseRSAPublicKeyFromCertificate parses a PEM-encoded X.509 certificate,
// as served by Google's securetoken JWKS endpoint, and returns its RSA
// public key.
func ParseRSAPublicKeyFromCertificate(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ferr.New(ferr.CryptoKeyInvalid, "not a PEM-encoded certificate")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, ferr.Wrap(ferr.CryptoKeyInvalid, err, "failed to parse certificate")
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, ferr.New(ferr.CryptoKeyInvalid, "certificate does not contain an RSA public key")
	}
	return pub, nil
}
