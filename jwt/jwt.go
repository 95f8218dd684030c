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

// Package jwt composes and verifies RS256 JSON Web Tokens using only the
// standard library's crypto/rsa, crypto/x509 and encoding/json primitives,
// plus a small HTTPS-backed JWKS cache for resolving verification keys by
// key ID.
package jwt

// Header is the protected header of a compact JWS.
type Header struct {
	Algorithm string `json:"alg"`
	Type      string `json:"typ"`
	KeyID     string `json:"kid,omitempty"`
}

func defaultHeader(kid string) Header {
	return Header{Algorithm: "RS256", Type: "JWT", KeyID: kid}
}
