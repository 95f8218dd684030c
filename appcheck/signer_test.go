package appcheck

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/edgeauth/fireauth/internal/testutil"
	fjwt "github.com/edgeauth/fireauth/jwt"
)

func TestSignerTokenCachesWithinTTL(t *testing.T) {
	key := testutil.GenerateRSAKey(t)
	jwtSigner, err := fjwt.NewSigner(testutil.PEMPrivateKey(t, key), "kid-1")
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}

	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		fmt.Fprint(w, `{"token":"appcheck-tok","ttl":"3600s"}`)
	}))
	defer srv.Close()

	signer := NewSigner(jwtSigner, srv.Client(), "mock-project", "mock-app")
	signer.exchangeURLOverride(srv.URL)

	for i := 0; i < 3; i++ {
		token, err := signer.Token(context.Background(), "svc@mock-project.iam.gserviceaccount.com")
		if err != nil {
			t.Fatalf("Token() error = %v", err)
		}
		if token != "appcheck-tok" {
			t.Errorf("token = %q, want appcheck-tok", token)
		}
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected exactly one exchange call, got %d", got)
	}
}
