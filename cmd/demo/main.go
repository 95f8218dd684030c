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

// Command demo wires the auth core into a minimal HTTP server: a login and
// logout endpoint plus one protected resource behind the session
// middleware. It reads a service account JSON file and an API key from the
// environment, the way most of the corpus's own cmd/ entrypoints do.
package main

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/edgeauth/fireauth/credential"
	"github.com/edgeauth/fireauth/idp"
	fjwt "github.com/edgeauth/fireauth/jwt"
	"github.com/edgeauth/fireauth/session"
)

func main() {
	credPath := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	if credPath == "" {
		log.Fatal("GOOGLE_APPLICATION_CREDENTIALS must name a service account JSON file")
	}
	apiKey := os.Getenv("FIREBASE_API_KEY")
	if apiKey == "" {
		log.Fatal("FIREBASE_API_KEY must be set")
	}
	cookieKey := os.Getenv("SESSION_COOKIE_KEY")
	if cookieKey == "" {
		log.Fatal("SESSION_COOKIE_KEY must be set")
	}

	f, err := os.Open(credPath)
	if err != nil {
		log.Fatalf("opening service account file: %v", err)
	}
	defer f.Close()

	cred, err := credential.NewCertificateFromJSON(f)
	if err != nil {
		log.Fatalf("loading service account: %v", err)
	}
	tokenCache := credential.NewAccessTokenCache(cred)

	projectID := os.Getenv("FIREBASE_PROJECT_ID")
	if projectID == "" {
		log.Fatal("FIREBASE_PROJECT_ID must be set")
	}

	idpClient := idp.NewClient(projectID, apiKey, idp.WithAccessTokenSource(tokenCache.Token))
	jwksCache := fjwt.NewJWKSCache(http.DefaultClient)
	tokenManager := idp.NewTokenManager(jwksCache, idpClient, projectID)

	cfg := session.Config{
		LoginPath:  "/login",
		LogoutPath: "/logout",
		CookieName: "session",
		CookieSignatureKeys: [][]byte{
			[]byte(cookieKey),
		},
		CookieOptions: session.SerializeOptions{
			Path:     "/",
			HTTPOnly: true,
			Secure:   true,
			SameSite: session.SameSiteLax,
			MaxAge:   14 * 24 * time.Hour,
		},
		CheckRevoked: true,
	}

	mw, err := session.NewMiddleware(cfg, idpClient, tokenManager)
	if err != nil {
		log.Fatalf("building session middleware: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/resource", func(w http.ResponseWriter, r *http.Request) {
		tokens, ok := session.TokensFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}
		w.Write([]byte("hello, " + tokens.Claims.Subject))
	})

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}
	log.Printf("listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, mw.Wrap(mux)))
}
