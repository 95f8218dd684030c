package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/edgeauth/fireauth/ferr"
	"github.com/edgeauth/fireauth/internal/testutil"
)

func newReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

// initMockServer mirrors credentials/credentials_test.go's mock token
// endpoint: it always returns a 60-minute token, regardless of the request.
func initMockServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token": "mock-token", "token_type": "Bearer", "expires_in": 3600}`)
	}))
}

func pemPrivateKey(t *testing.T) []byte {
	t.Helper()
	key := testutil.GenerateRSAKey(t)
	return testutil.PEMPrivateKey(t, key)
}

func TestNewCertificateAccessToken(t *testing.T) {
	srv := initMockServer(t)
	defer srv.Close()

	sa := ServiceAccount{
		ProjectID:    "mock-project",
		ClientEmail:  "mock-email@mock-project.iam.gserviceaccount.com",
		PrivateKey:   pemPrivateKey(t),
		PrivateKeyID: "mock-key-id-1",
		TokenURL:     srv.URL,
	}
	cred, err := NewCertificate(sa)
	if err != nil {
		t.Fatalf("NewCertificate() error = %v", err)
	}

	token, expiry, err := cred.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken() error = %v", err)
	}
	if token != "mock-token" {
		t.Errorf("token = %q, want mock-token", token)
	}
	expiresIn := int64(time.Until(expiry) / time.Minute)
	if expiresIn < 55 || expiresIn > 60 {
		t.Errorf("expiry = %v, want ~60 minutes out", expiry)
	}
}

func TestNewCertificateMissingFields(t *testing.T) {
	cases := []ServiceAccount{
		{ClientEmail: "e@x.com", PrivateKey: pemPrivateKey(t)},
		{ProjectID: "p1", PrivateKey: pemPrivateKey(t)},
		{ProjectID: "p1", ClientEmail: "e@x.com"},
	}
	for i, sa := range cases {
		if _, err := NewCertificate(sa); !ferr.Is(err, ferr.InvalidArgument) {
			t.Errorf("case %d: expected INVALID_ARGUMENT, got %v", i, err)
		}
	}
}

func TestNewCertificateFromJSON(t *testing.T) {
	doc := map[string]string{
		"project_id":     "mock-project",
		"client_email":   "mock-email@mock-project.iam.gserviceaccount.com",
		"private_key":    string(pemPrivateKey(t)),
		"private_key_id": "mock-key-id-1",
		"token_uri":      "https://accounts.google.com/o/oauth2/token",
	}
	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	cred, err := NewCertificateFromJSON(newReader(b))
	if err != nil {
		t.Fatalf("NewCertificateFromJSON() error = %v", err)
	}
	if cred.(*certificate).projID != "mock-project" {
		t.Errorf("projID = %q, want mock-project", cred.(*certificate).projID)
	}
}

func TestNewRefreshTokenWithInvalidJSON(t *testing.T) {
	if _, err := NewRefreshToken(newReader([]byte("not json"))); !ferr.Is(err, ferr.InvalidArgument) {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
	wrongType, _ := json.Marshal(map[string]string{"type": "service_account"})
	if _, err := NewRefreshToken(newReader(wrongType)); !ferr.Is(err, ferr.InvalidArgument) {
		t.Fatalf("expected INVALID_ARGUMENT for wrong type, got %v", err)
	}
}

type stubCredential struct {
	calls int
	token string
	exp   time.Time
	err   error
}

func (s *stubCredential) AccessToken(ctx context.Context) (string, time.Time, error) {
	s.calls++
	if s.err != nil {
		return "", time.Time{}, s.err
	}
	return s.token, s.exp, nil
}

func TestAccessTokenCacheReusesUnexpiredToken(t *testing.T) {
	stub := &stubCredential{token: "tok-1", exp: time.Unix(2_000_000_000, 0)}
	cache := NewAccessTokenCache(stub)
	cache.now = func() time.Time { return time.Unix(1_000_000_000, 0) }

	for i := 0; i < 3; i++ {
		tok, err := cache.Token(context.Background())
		if err != nil {
			t.Fatalf("Token() error = %v", err)
		}
		if tok != "tok-1" {
			t.Errorf("token = %q, want tok-1", tok)
		}
	}
	if stub.calls != 1 {
		t.Fatalf("expected exactly one underlying fetch, got %d", stub.calls)
	}
}

func TestAccessTokenCacheRefreshesWithinThreshold(t *testing.T) {
	stub := &stubCredential{token: "tok-1", exp: time.Unix(1_000_000_300, 0)}
	cache := NewAccessTokenCache(stub)
	now := time.Unix(1_000_000_000, 0)
	cache.now = func() time.Time { return now }

	if _, err := cache.Token(context.Background()); err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	stub.token = "tok-2"
	stub.exp = time.Unix(2_000_000_000, 0)

	// 300s remain, exactly the 5-minute threshold: must refresh.
	tok, err := cache.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok != "tok-2" {
		t.Errorf("token = %q, want tok-2 (refreshed)", tok)
	}
	if stub.calls != 2 {
		t.Fatalf("expected a refresh fetch, got %d calls", stub.calls)
	}
}

func TestAccessTokenCacheForceRefresh(t *testing.T) {
	stub := &stubCredential{token: "tok-1", exp: time.Unix(2_000_000_000, 0)}
	cache := NewAccessTokenCache(stub)
	cache.now = func() time.Time { return time.Unix(1_000_000_000, 0) }

	if _, err := cache.Token(context.Background()); err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	stub.token = "tok-2"

	tok, err := cache.ForceRefresh(context.Background())
	if err != nil {
		t.Fatalf("ForceRefresh() error = %v", err)
	}
	if tok != "tok-2" {
		t.Errorf("token = %q, want tok-2", tok)
	}
	if stub.calls != 2 {
		t.Fatalf("expected ForceRefresh to bypass the cache, got %d calls", stub.calls)
	}
}
