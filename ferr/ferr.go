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

// Package ferr defines the closed error taxonomy shared by every component
// of the auth core: the JWT signer/verifier, the credential cache, the
// identity-provider client, and the session middleware all surface errors
// through this one Code/Error pair so that callers can branch on a stable
// string rather than parsing messages.
package ferr

import "fmt"

// Code is a stable, user-facing error identifier.
type Code string

const (
	UserNotFound      Code = "USER_NOT_FOUND"
	UserDisabled      Code = "USER_DISABLED"
	InvalidCredential Code = "INVALID_CREDENTIAL"
	TokenExpired      Code = "TOKEN_EXPIRED"
	TokenRevoked      Code = "TOKEN_REVOKED"
	InvalidSignature  Code = "INVALID_SIGNATURE"
	NoKidInHeader     Code = "NO_KID_IN_HEADER"
	NoMatchingKid     Code = "NO_MATCHING_KID"
	InvalidArgument   Code = "INVALID_ARGUMENT"
	NetworkError      Code = "NETWORK_ERROR"
	InternalError     Code = "INTERNAL_ERROR"

	// CryptoKeyInvalid is raised by the JWT signer when a PEM blob does not
	// decode to a PKCS#8 (or PKCS#1) RSA private key.
	CryptoKeyInvalid Code = "CRYPTO_KEY_INVALID"
	// SignFailed is raised by the JWT signer on any crypto failure other
	// than key parsing.
	SignFailed Code = "SIGN_FAILED"
	// JWKSFetchFailed is raised by the JWKS cache when the origin request
	// fails or returns a non-200 status.
	JWKSFetchFailed Code = "JWKS_FETCH_FAILED"
)

// Error is the concrete error type returned by every package in this
// module. It is always non-nil when returned and always carries a Code.
type Error struct {
	Code Code
	// Message is a human-readable description, safe to surface to API
	// callers in a {code, message} JSON payload per the login/logout
	// endpoint contract.
	Message string
	// HTTPStatus is the upstream HTTP status code that produced this
	// error, when applicable (0 otherwise).
	HTTPStatus int
	// Body is a short excerpt of the upstream response body, when
	// applicable.
	Body string
	// Err wraps the underlying error, if any, for %w-style unwrapping.
	Err error
}

func (e *Error) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("%s: %s (http status %d)", e.Code, e.Message, e.HTTPStatus)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with the given code and message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error with the given code that wraps an underlying error.
func Wrap(code Code, err error, msg string) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// FromUpstream creates an Error carrying HTTP response detail, as surfaced
// by failed calls to Google OAuth2, Identity Toolkit, Secure Token or the
// JWKS endpoints.
func FromUpstream(code Code, status int, body string) *Error {
	return &Error{Code: code, HTTPStatus: status, Body: body, Message: fmt.Sprintf("upstream request failed with status %d", status)}
}

// Is reports whether err is an *Error carrying the given code.
func Is(err error, code Code) bool {
	var fe *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			fe = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return fe != nil && fe.Code == code
}

// CodeOf returns the Code carried by err, or "" if err is not an *Error.
func CodeOf(err error) Code {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// IsUserNotFound reports whether err represents a USER_NOT_FOUND condition.
//
// USER_NOT_FOUND is given this direct predicate because it is frequently
// benign: it is the expected outcome of verifying a token for a user whose
// account was legitimately deleted out from under an in-flight session.
func IsUserNotFound(err error) bool {
	return Is(err, UserNotFound)
}
