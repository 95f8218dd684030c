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
	"context"
	"crypto/rsa"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/edgeauth/fireauth/codec"
	"github.com/edgeauth/fireauth/ferr"
)

// KeyFetcher resolves a key ID to an RSA public key, the capability the
// Verifier depends on (see spec's §9 DESIGN NOTES on modeling the original
// key-fetcher/signature-verifier inheritance as a capability set).
type KeyFetcher interface {
	Keys(ctx context.Context) (map[string]*rsa.PublicKey, error)
}

// entry is one per-URL cache row: the resolved key set plus its absolute
// expiry. expiresAt is the zero time when the origin response carried no
// parseable Cache-Control max-age, per the PublicKeySet invariant: treat as
// always stale.
type entry struct {
	keys      map[string]*rsa.PublicKey
	expiresAt time.Time
}

func (e *entry) stale(now time.Time) bool {
	return e == nil || e.expiresAt.IsZero() || !now.Before(e.expiresAt)
}

// JWKSCache is a process-wide, per-URL cache of JWKS documents. It is safe
// for concurrent use; concurrent misses for the same URL may each issue an
// HTTP request (coalescing is a permitted optimization, not a requirement,
// per spec §4.3), and the last write wins.
type JWKSCache struct {
	mu     sync.Mutex
	byURL  map[string]*entry
	client *http.Client
	now    func() time.Time
}

// NewJWKSCache returns an empty cache that fetches with client (or
// http.DefaultClient if nil).
func NewJWKSCache(client *http.Client) *JWKSCache {
	if client == nil {
		client = http.DefaultClient
	}
	return &JWKSCache{
		byURL:  make(map[string]*entry),
		client: client,
		now:    time.Now,
	}
}

// ForURL returns a KeyFetcher bound to url, sharing this cache's map.
func (c *JWKSCache) ForURL(url string) KeyFetcher {
	return &boundFetcher{cache: c, url: url}
}

type boundFetcher struct {
	cache *JWKSCache
	url   string
}

func (f *boundFetcher) Keys(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	return f.cache.keys(ctx, f.url)
}

func (c *JWKSCache) keys(ctx context.Context, url string) (map[string]*rsa.PublicKey, error) {
	c.mu.Lock()
	e := c.byURL[url]
	c.mu.Unlock()

	if !e.stale(c.now()) {
		return e.keys, nil
	}

	fresh, err := c.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.byURL[url] = fresh
	c.mu.Unlock()
	return fresh.keys, nil
}

func (c *JWKSCache) fetch(ctx context.Context, url string) (*entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, ferr.Wrap(ferr.JWKSFetchFailed, err, "building jwks request")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, ferr.Wrap(ferr.JWKSFetchFailed, err, "performing jwks request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ferr.Wrap(ferr.JWKSFetchFailed, err, "reading jwks response")
	}
	if resp.StatusCode != http.StatusOK {
		excerpt := string(body)
		if len(excerpt) > 256 {
			excerpt = excerpt[:256]
		}
		return nil, ferr.FromUpstream(ferr.JWKSFetchFailed, resp.StatusCode, excerpt)
	}

	raw := make(map[string]string)
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, ferr.Wrap(ferr.JWKSFetchFailed, err, "parsing jwks body")
	}

	keys := make(map[string]*rsa.PublicKey, len(raw))
	for kid, pem := range raw {
		pub, err := codec.ParseRSAPublicKeyFromCertificate([]byte(pem))
		if err != nil {
			return nil, ferr.Wrap(ferr.JWKSFetchFailed, err, "parsing jwks key "+kid)
		}
		keys[kid] = pub
	}

	e := &entry{keys: keys}
	if ttl := maxAge(resp.Header); ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	return e, nil
}

// maxAge parses Cache-Control: max-age=N, returning 0 (always-stale) when
// the header is absent or unparseable.
func maxAge(h http.Header) time.Duration {
	cc := h.Get("Cache-Control")
	for _, part := range strings.Split(cc, ",") {
		part = strings.TrimSpace(part)
		if !strings.HasPrefix(part, "max-age") {
			continue
		}
		sep := strings.Index(part, "=")
		if sep == -1 {
			return 0
		}
		seconds, err := strconv.ParseInt(strings.TrimSpace(part[sep+1:]), 10, 64)
		if err != nil {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	return 0
}
