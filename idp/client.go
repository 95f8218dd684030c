// Package idp is the HTTP client for the Identity Platform / Secure Token
// REST endpoints the auth core exchanges tokens against: minting and
// exchanging custom tokens, refreshing ID tokens, looking up accounts for
// revocation checks, and deleting accounts. Grounded on auth/user_mgt.go's
// accounts:lookup/accounts:delete request shape and internal/http_client.go's
// Request/Response idiom, generalized to the three upstream calls spec.md
// §4.5 names.
package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/edgeauth/fireauth/ferr"
	"github.com/edgeauth/fireauth/internal"
	"github.com/edgeauth/fireauth/jwt"
)

// FirebaseIDTokenCertURL serves the X.509 certificates used to verify
// Secure Token-issued ID tokens, the same value as the teacher's
// googleCertURL/idTokenCertURL constants.
const FirebaseIDTokenCertURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"

// IDTokenIssuerPrefix precedes a Firebase project ID to form the expected
// `iss` claim of a Secure Token ID token.
const IDTokenIssuerPrefix = "https://securetoken.google.com/"

const (
	identityToolkitBaseURL = "https://identitytoolkit.googleapis.com/v1"
	secureTokenBaseURL     = "https://securetoken.googleapis.com/v1"
)

// emulatorHostEnvVar is read at Client construction time, the same
// env-var-driven base-URL override pattern used throughout the teacher's
// internal config structs.
const emulatorHostEnvVar = "FIREBASE_AUTH_EMULATOR_HOST"

// AccessTokenSource supplies the bearer access token administrative calls
// (accounts:lookup, accounts:delete) are authenticated with, per spec.md
// §4.5: "All administrative calls are authenticated with Authorization:
// Bearer <access-token> from §4.4." Satisfied by
// (*credential.AccessTokenCache).Token.
type AccessTokenSource func(ctx context.Context) (string, error)

// Client talks to Identity Toolkit and Secure Token on behalf of one
// Firebase project.
type Client struct {
	projectID   string
	apiKey      string
	httpClient  *http.Client
	toolkitBase string
	tokenBase   string
	emulator    bool
	accessToken AccessTokenSource
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithAccessTokenSource wires the service-account access-token cache that
// authenticates administrative calls (Lookup, DeleteUser).
func WithAccessTokenSource(src AccessTokenSource) Option {
	return func(c *Client) { c.accessToken = src }
}

// WithToolkitBaseURL overrides the Identity Toolkit base URL, bypassing any
// emulator redirection. Used by tests to point at an httptest server.
func WithToolkitBaseURL(url string) Option {
	return func(c *Client) { c.toolkitBase = url }
}

// WithTokenBaseURL overrides the Secure Token base URL, bypassing any
// emulator redirection. Used by tests to point at an httptest server.
func WithTokenBaseURL(url string) Option {
	return func(c *Client) { c.tokenBase = url }
}

// NewClient builds a Client for projectID, authenticating upstream calls
// with apiKey. If FIREBASE_AUTH_EMULATOR_HOST is set, every call is
// redirected to the emulator instead of the production endpoints.
func NewClient(projectID, apiKey string, opts ...Option) *Client {
	c := &Client{
		projectID:   projectID,
		apiKey:      apiKey,
		httpClient:  http.DefaultClient,
		toolkitBase: identityToolkitBaseURL,
		tokenBase:   secureTokenBaseURL,
	}
	if host := os.Getenv(emulatorHostEnvVar); host != "" {
		host = strings.TrimSuffix(host, "/")
		c.toolkitBase = fmt.Sprintf("http://%s/identitytoolkit.googleapis.com/v1", host)
		c.tokenBase = fmt.Sprintf("http://%s/securetoken.googleapis.com/v1", host)
		c.emulator = true
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Emulator reports whether this Client is pointed at the Auth emulator.
func (c *Client) Emulator() bool {
	return c.emulator
}

type signInWithCustomTokenResponse struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

// SessionTokens is the pair of tokens returned by a successful custom-token
// or refresh-token exchange, per spec.md's SessionTokens type.
type SessionTokens struct {
	IDToken      string
	RefreshToken string
	ExpiresIn    time.Duration
}

// ExchangeCustomToken exchanges a self-signed custom token for an ID token
// and refresh token, per spec.md §4.5 step "exchangeCustomToken". appCheck,
// if non-empty, is attached as the X-Firebase-AppCheck header.
func (c *Client) ExchangeCustomToken(ctx context.Context, customToken, appCheck string) (*SessionTokens, error) {
	var opts []internal.HTTPOption
	if appCheck != "" {
		opts = append(opts, internal.WithHeader("X-Firebase-AppCheck", appCheck))
	}
	req := &internal.Request{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/accounts:signInWithCustomToken?key=%s", c.toolkitBase, c.apiKey),
		Body: map[string]interface{}{
			"token":             customToken,
			"returnSecureToken": true,
		},
		Opts: opts,
	}
	resp, err := req.Send(ctx, c.httpClient)
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusOK {
		return nil, mapExchangeError(resp, ferr.InvalidCredential)
	}

	var parsed signInWithCustomTokenResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, ferr.Wrap(ferr.InternalError, err, "decoding response body")
	}
	return toSessionTokens(parsed.IDToken, parsed.RefreshToken, parsed.ExpiresIn)
}

type refreshTokenResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
}

// ExchangeRefreshToken exchanges a refresh token for a new ID token and
// refresh token, per spec.md §4.5's securetoken exchange step.
func (c *Client) ExchangeRefreshToken(ctx context.Context, refreshToken string) (*SessionTokens, error) {
	req := &internal.Request{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/token?key=%s", c.tokenBase, c.apiKey),
		Body: map[string]interface{}{
			"grant_type":    "refresh_token",
			"refresh_token": refreshToken,
		},
	}
	resp, err := req.Send(ctx, c.httpClient)
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusOK {
		return nil, mapExchangeError(resp, ferr.InvalidCredential)
	}

	var parsed refreshTokenResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, ferr.Wrap(ferr.InternalError, err, "decoding response body")
	}
	return toSessionTokens(parsed.IDToken, parsed.RefreshToken, parsed.ExpiresIn)
}

// upstreamErrorCodes maps the Identity Toolkit/Secure Token error.message
// strings spec.md §4.5 names onto this module's closed error taxonomy,
// mirroring auth/user_mgt.go's serverError table.
var upstreamErrorCodes = map[string]ferr.Code{
	"USER_NOT_FOUND":     ferr.UserNotFound,
	"USER_DISABLED":      ferr.UserDisabled,
	"TOKEN_EXPIRED":      ferr.TokenExpired,
	"INVALID_CREDENTIAL": ferr.InvalidCredential,
}

// mapExchangeError inspects resp's {"error":{"message":...}} body, the
// shape both the signInWithCustomToken and securetoken endpoints return on
// failure, and maps a recognized message to the taxonomy code
// upstreamErrorCodes names. Unrecognized or absent messages fall back to
// the caller-supplied code.
func mapExchangeError(resp *internal.Response, fallback ferr.Code) error {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	json.Unmarshal(resp.Body, &body) // best-effort; fallback covers parse failures too
	code, ok := upstreamErrorCodes[body.Error.Message]
	if !ok {
		code = fallback
	}
	return ferr.FromUpstream(code, resp.Status, string(resp.Body))
}

func toSessionTokens(idToken, refreshToken, expiresIn string) (*SessionTokens, error) {
	var seconds int64
	if _, err := fmt.Sscanf(expiresIn, "%d", &seconds); err != nil {
		seconds = 3600
	}
	return &SessionTokens{
		IDToken:      idToken,
		RefreshToken: refreshToken,
		ExpiresIn:    time.Duration(seconds) * time.Second,
	}, nil
}

// AccountStatus is the subset of an accounts:lookup response the revocation
// check in idp.TokenManager needs, grounded on auth/user_mgt.go's getUser.
type AccountStatus struct {
	Disabled  bool
	ValidTime time.Time
}

type lookupResponse struct {
	Users []struct {
		LocalID          string `json:"localId"`
		Disabled         bool   `json:"disabled"`
		ValidSinceSecond string `json:"validSince"`
	} `json:"users"`
}

// Lookup fetches the account status of uid for the revocation check in
// spec.md §4.6, mirroring auth/user_mgt.go's "/accounts:lookup" POST shape.
func (c *Client) Lookup(ctx context.Context, uid string) (*AccountStatus, error) {
	opts, err := c.adminAuthOpts(ctx)
	if err != nil {
		return nil, err
	}
	req := &internal.Request{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/projects/%s/accounts:lookup?key=%s", c.toolkitBase, c.projectID, c.apiKey),
		Body:   map[string]interface{}{"localId": []string{uid}},
		Opts:   opts,
	}
	resp, err := req.Send(ctx, c.httpClient)
	if err != nil {
		return nil, err
	}

	var parsed lookupResponse
	if err := resp.Unmarshal(http.StatusOK, ferr.InternalError, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Users) == 0 {
		return nil, ferr.Newf(ferr.UserNotFound, "no user record found for uid %q", uid)
	}

	u := parsed.Users[0]
	status := &AccountStatus{Disabled: u.Disabled}
	var validSince int64
	if _, err := fmt.Sscanf(u.ValidSinceSecond, "%d", &validSince); err == nil && validSince > 0 {
		status.ValidTime = time.Unix(validSince, 0)
	}
	return status, nil
}

// DeleteUser deletes the account identified by uid, mirroring
// auth/user_mgt.go's DeleteUser "/accounts:delete" call.
func (c *Client) DeleteUser(ctx context.Context, uid string) error {
	opts, err := c.adminAuthOpts(ctx)
	if err != nil {
		return err
	}
	req := &internal.Request{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/projects/%s/accounts:delete?key=%s", c.toolkitBase, c.projectID, c.apiKey),
		Body:   map[string]interface{}{"localId": uid},
		Opts:   opts,
	}
	resp, err := req.Send(ctx, c.httpClient)
	if err != nil {
		return err
	}
	return resp.CheckStatus(http.StatusOK, ferr.InternalError)
}

// adminAuthOpts attaches the Authorization: Bearer <access-token> header
// spec.md §4.5 requires of administrative calls (Lookup, DeleteUser), when
// an AccessTokenSource has been configured via WithAccessTokenSource.
func (c *Client) adminAuthOpts(ctx context.Context) ([]internal.HTTPOption, error) {
	if c.accessToken == nil {
		return nil, nil
	}
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, ferr.Wrap(ferr.InvalidCredential, err, "fetching access token for administrative call")
	}
	return []internal.HTTPOption{internal.WithHeader("Authorization", "Bearer "+token)}, nil
}

// MintCustomToken builds a self-signed custom authentication token for uid,
// embedding devClaims, per spec.md §4.5's first step. Mirrors
// auth/auth.go's CustomTokenWithClaims.
func MintCustomToken(signer *jwt.Signer, issuer, uid string, devClaims map[string]interface{}, now time.Time) (string, error) {
	if uid == "" || len(uid) > 128 {
		return "", ferr.New(ferr.InvalidArgument, "uid must be non-empty and at most 128 characters")
	}
	for _, k := range reservedCustomTokenClaims {
		if _, ok := devClaims[k]; ok {
			return "", ferr.Newf(ferr.InvalidArgument, "developer claim %q is reserved", k)
		}
	}

	const customTokenAudience = "https://identitytoolkit.googleapis.com/google.identity.identitytoolkit.v1.IdentityToolkit"
	const tokenTTL = time.Hour

	payload := map[string]interface{}{
		"iss":    issuer,
		"sub":    issuer,
		"aud":    customTokenAudience,
		"uid":    uid,
		"iat":    now.Unix(),
		"exp":    now.Add(tokenTTL).Unix(),
		"claims": devClaims,
	}
	return signer.Sign(payload)
}

var reservedCustomTokenClaims = []string{
	"acr", "amr", "at_hash", "aud", "auth_time", "azp", "cnf", "c_hash",
	"exp", "iat", "iss", "jti", "nbf", "nonce", "sub", "firebase",
}
