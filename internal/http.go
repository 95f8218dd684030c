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

// Package internal holds the HTTP request/response plumbing shared by the
// idp and appcheck packages, generalized from http_client.go's Request/
// Response/HTTPOption shape to return the closed ferr taxonomy instead of
// the OnePlatform-specific error model the multi-product SDK used.
package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/edgeauth/fireauth/ferr"
)

// Request is one outbound HTTP call to a Google Identity Platform endpoint.
type Request struct {
	Method string
	URL    string
	Body   interface{}
	Opts   []HTTPOption
}

// Send issues the request against hc and reads the full response body.
func (r *Request) Send(ctx context.Context, hc *http.Client) (*Response, error) {
	req, err := r.newHTTPRequest(ctx)
	if err != nil {
		return nil, ferr.Wrap(ferr.InvalidArgument, err, "building request")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, ferr.Wrap(ferr.NetworkError, err, "performing request")
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ferr.Wrap(ferr.NetworkError, err, "reading response body")
	}
	return &Response{Status: resp.StatusCode, Body: b, Header: resp.Header}, nil
}

func (r *Request) newHTTPRequest(ctx context.Context) (*http.Request, error) {
	var opts []HTTPOption
	var data io.Reader
	if r.Body != nil {
		b, err := json.Marshal(r.Body)
		if err != nil {
			return nil, err
		}
		data = bytes.NewReader(b)
		opts = append(opts, WithHeader("Content-Type", "application/json"))
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, data)
	if err != nil {
		return nil, err
	}

	opts = append(opts, r.Opts...)
	for _, o := range opts {
		o(req)
	}
	return req, nil
}

// Response is the outcome of one Request.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// CheckStatus returns a ferr.Error carrying code when the response status
// does not equal want.
func (r *Response) CheckStatus(want int, code ferr.Code) error {
	if r.Status == want {
		return nil
	}
	excerpt := string(r.Body)
	if len(excerpt) > 512 {
		excerpt = excerpt[:512]
	}
	return ferr.FromUpstream(code, r.Status, excerpt)
}

// Unmarshal checks the response status and decodes the body into v.
func (r *Response) Unmarshal(want int, code ferr.Code, v interface{}) error {
	if err := r.CheckStatus(want, code); err != nil {
		return err
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return ferr.Wrap(ferr.InternalError, err, "decoding response body")
	}
	return nil
}

// HTTPOption mutates an outgoing *http.Request before it is sent.
type HTTPOption func(*http.Request)

// WithHeader sets a single header.
func WithHeader(key, value string) HTTPOption {
	return func(r *http.Request) { r.Header.Set(key, value) }
}

// WithQueryParam adds a single query parameter.
func WithQueryParam(key, value string) HTTPOption {
	return func(r *http.Request) {
		q := r.URL.Query()
		q.Add(key, value)
		r.URL.RawQuery = q.Encode()
	}
}
