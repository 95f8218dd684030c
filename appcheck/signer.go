package appcheck

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/edgeauth/fireauth/ferr"
	"github.com/edgeauth/fireauth/internal"
	fjwt "github.com/edgeauth/fireauth/jwt"
)

const exchangeCustomTokenURLFormat = "https://firebaseappcheck.googleapis.com/v1/projects/%s/apps/%s:exchangeCustomToken"

// appCheckAudience is the `aud` claim of the custom assertion sent to the
// exchangeCustomToken endpoint.
const appCheckAudience = "https://firebaseappcheck.googleapis.com/google.firebase.appcheck.v1.TokenExchangeService"

// Signer mints App Check tokens for a service account, exchanging a
// self-signed custom assertion for a short-lived attestation token, per
// spec.md's AppCheck-signer component. Grounded on
// auth/token_generator.go's serviceAccountSigner, adapted to RS256 custom
// assertions via the jwt package rather than the IAM signBlob fallback.
type Signer struct {
	jwtSigner   *fjwt.Signer
	httpClient  *http.Client
	projectID   string
	appID       string
	exchangeURL string

	mu    sync.Mutex
	token string
	exp   time.Time
}

// NewSigner builds a Signer that mints assertions with jwtSigner and
// exchanges them for App Check tokens scoped to appID within projectID. The
// assertion's issuer is supplied on each Token call.
func NewSigner(jwtSigner *fjwt.Signer, httpClient *http.Client, projectID, appID string) *Signer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Signer{
		jwtSigner:   jwtSigner,
		httpClient:  httpClient,
		projectID:   projectID,
		appID:       appID,
		exchangeURL: fmt.Sprintf(exchangeCustomTokenURLFormat, projectID, appID),
	}
}

// exchangeURLOverride points the exchange call at a test server instead of
// the production App Check endpoint.
func (s *Signer) exchangeURLOverride(url string) {
	s.exchangeURL = url
}

// Token returns a cached App Check token, minting and exchanging a fresh one
// once the cached token is within a minute of expiry.
func (s *Signer) Token(ctx context.Context, issuer string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Add(time.Minute).Before(s.exp) {
		return s.token, nil
	}

	assertion, err := s.mintAssertion(issuer, time.Now())
	if err != nil {
		return "", err
	}

	token, ttl, err := s.exchange(ctx, assertion)
	if err != nil {
		return "", err
	}
	s.token = token
	s.exp = time.Now().Add(ttl)
	return token, nil
}

func (s *Signer) mintAssertion(issuer string, now time.Time) (string, error) {
	payload := map[string]interface{}{
		"iss": issuer,
		"sub": issuer,
		"aud": appCheckAudience,
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	}
	return s.jwtSigner.Sign(payload)
}

type exchangeResponse struct {
	Token string `json:"token"`
	TTL   string `json:"ttl"`
}

func (s *Signer) exchange(ctx context.Context, assertion string) (string, time.Duration, error) {
	req := &internal.Request{
		Method: http.MethodPost,
		URL:    s.exchangeURL,
		Body:   map[string]interface{}{"customToken": assertion},
	}
	resp, err := req.Send(ctx, s.httpClient)
	if err != nil {
		return "", 0, err
	}

	var parsed exchangeResponse
	if err := resp.Unmarshal(http.StatusOK, ferr.InvalidCredential, &parsed); err != nil {
		return "", 0, err
	}

	var seconds int64
	if _, err := fmt.Sscanf(parsed.TTL, "%ds", &seconds); err != nil {
		seconds = 0
	}
	if seconds == 0 {
		seconds = 3600
	}
	return parsed.Token, time.Duration(seconds) * time.Second, nil
}
