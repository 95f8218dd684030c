package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/edgeauth/fireauth/idp"
	"github.com/edgeauth/fireauth/internal/testutil"
	fjwt "github.com/edgeauth/fireauth/jwt"
)

func testContext() context.Context { return context.Background() }

func fixedNow() time.Time { return time.Unix(1_700_000_000, 0) }

// stack bundles everything a middleware test needs: a JWKS server backing
// the token manager, an idp.Client pointed at a fake Identity Toolkit, and
// the signer used to mint ID tokens as if Secure Token had issued them.
type stack struct {
	jwksServer *httptest.Server
	signer     *fjwt.Signer
	client     *idp.Client
	manager    *idp.TokenManager
	mw         *Middleware
}

func newStack(t *testing.T, toolkitSrv *httptest.Server, cfg Config) *stack {
	t.Helper()
	key := testutil.GenerateRSAKey(t)
	cert := testutil.SelfSignedCert(t, key)

	jwksSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"test-kid": %q}`, string(cert))
	}))
	t.Cleanup(jwksSrv.Close)

	signer, err := fjwt.NewSigner(testutil.PEMPrivateKey(t, key), "test-kid")
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}

	jwksCache := fjwt.NewJWKSCache(jwksSrv.Client())

	opts := []idp.Option{idp.WithHTTPClient(toolkitSrv.Client()), idp.WithToolkitBaseURL(toolkitSrv.URL), idp.WithTokenBaseURL(toolkitSrv.URL)}
	client := idp.NewClient("mock-project", "mock-key", opts...)

	manager := idp.NewTokenManagerWithJWKSURL(jwksCache, client, "mock-project", jwksSrv.URL)

	mw, err := NewMiddleware(cfg, client, manager)
	if err != nil {
		t.Fatalf("NewMiddleware() error = %v", err)
	}

	return &stack{jwksServer: jwksSrv, signer: signer, client: client, manager: manager, mw: mw}
}

func (s *stack) mintIDToken(t *testing.T, uid string, iat, exp int64) string {
	t.Helper()
	token, err := s.signer.Sign(map[string]interface{}{
		"iss":       idp.IDTokenIssuerPrefix + "mock-project",
		"aud":       "mock-project",
		"sub":       uid,
		"iat":       iat,
		"exp":       exp,
		"auth_time": iat,
	})
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	return token
}
