// Package credential builds the OAuth2 access-token sources the auth core
// uses to call Identity Toolkit and Secure Token on a service account's
// behalf, following credentials/credentials.go's shape generalized to
// spec.md §4.4's explicit self-signed-assertion exchange.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"

	"github.com/edgeauth/fireauth/codec"
	"github.com/edgeauth/fireauth/ferr"
)

// Scopes is the fixed, five-entry scope list the self-signed assertion
// requests: cloud-platform, firebase.database, firebase.messaging,
// identitytoolkit, userinfo.email.
var Scopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/firebase.database",
	"https://www.googleapis.com/auth/firebase.messaging",
	"https://www.googleapis.com/auth/identitytoolkit",
	"https://www.googleapis.com/auth/userinfo.email",
}

// Credential fetches a valid, unexpired OAuth2 access token. Implementations
// are not required to cache tokens themselves — wrap one in an
// AccessTokenCache for that.
type Credential interface {
	AccessToken(ctx context.Context) (string, time.Time, error)
}

// ServiceAccount is the minimal shape of a Google service-account key needed
// to build a self-signed JWT-bearer assertion, per spec.md §3.
type ServiceAccount struct {
	ProjectID    string
	ClientEmail  string
	PrivateKey   []byte // PEM-encoded PKCS#8 or PKCS#1
	PrivateKeyID string
	TokenURL     string
}

type certificate struct {
	config *jwt.Config
	projID string
}

func (c *certificate) AccessToken(ctx context.Context) (string, time.Time, error) {
	token, err := c.config.TokenSource(ctx).Token()
	if err != nil {
		return "", time.Time{}, mapTokenError(err)
	}
	return token.AccessToken, token.Expiry, nil
}

func (c *certificate) ProjectID() string {
	return c.projID
}

// NewCertificate builds a Credential from a service account, constructing
// the oauth2/jwt.Config directly (rather than google.JWTConfigFromJSON) so
// the self-signed-assertion fields spec.md step 1 enumerates (aud, iat, exp,
// iss, sub, scope) are explicit and inspectable.
func NewCertificate(sa ServiceAccount) (Credential, error) {
	if sa.ClientEmail == "" {
		return nil, ferr.New(ferr.InvalidArgument, "'client_email' field not available")
	}
	if sa.ProjectID == "" {
		return nil, ferr.New(ferr.InvalidArgument, "'project_id' field not available")
	}
	if len(sa.PrivateKey) == 0 {
		return nil, ferr.New(ferr.InvalidArgument, "'private_key' field not available")
	}

	if _, err := codec.ParsePKCS8PrivateKey(sa.PrivateKey); err != nil {
		return nil, err
	}

	tokenURL := sa.TokenURL
	if tokenURL == "" {
		tokenURL = google.Endpoint.TokenURL
	}
	config := &jwt.Config{
		Email:        sa.ClientEmail,
		PrivateKey:   sa.PrivateKey,
		PrivateKeyID: sa.PrivateKeyID,
		TokenURL:     tokenURL,
		Scopes:       Scopes,
	}
	return &certificate{config: config, projID: sa.ProjectID}, nil
}

// NewCertificateFromJSON parses a service account certificate JSON document
// (as downloaded from the Firebase console) the way
// credentials/credentials.go's NewCert does.
func NewCertificateFromJSON(r io.Reader) (Credential, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, ferr.Wrap(ferr.InvalidArgument, err, "reading service account json")
	}

	var doc struct {
		ProjectID    string `json:"project_id"`
		ClientEmail  string `json:"client_email"`
		PrivateKey   string `json:"private_key"`
		PrivateKeyID string `json:"private_key_id"`
		TokenURI     string `json:"token_uri"`
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, ferr.Wrap(ferr.InvalidArgument, err, "parsing service account json")
	}

	return NewCertificate(ServiceAccount{
		ProjectID:    doc.ProjectID,
		ClientEmail:  doc.ClientEmail,
		PrivateKey:   []byte(doc.PrivateKey),
		PrivateKeyID: doc.PrivateKeyID,
		TokenURL:     doc.TokenURI,
	})
}

type refreshToken struct {
	config *oauth2.Config
	token  *oauth2.Token
}

func (c *refreshToken) AccessToken(ctx context.Context) (string, time.Time, error) {
	token, err := c.config.TokenSource(ctx, c.token).Token()
	if err != nil {
		return "", time.Time{}, mapTokenError(err)
	}
	return token.AccessToken, token.Expiry, nil
}

// NewRefreshToken builds a Credential from "gcloud auth application-default
// login"-style authorized_user JSON, per credentials/credentials.go's
// NewRefreshToken.
func NewRefreshToken(r io.Reader) (Credential, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, ferr.Wrap(ferr.InvalidArgument, err, "reading refresh token json")
	}

	rt := &struct {
		Type         string `json:"type"`
		ClientSecret string `json:"client_secret"`
		ClientID     string `json:"client_id"`
		RefreshToken string `json:"refresh_token"`
	}{}
	if err := json.Unmarshal(b, rt); err != nil {
		return nil, ferr.Wrap(ferr.InvalidArgument, err, "parsing refresh token json")
	}
	if rt.Type != "authorized_user" {
		return nil, ferr.Newf(ferr.InvalidArgument, "'type' field is %q (expected 'authorized_user')", rt.Type)
	}
	if rt.ClientID == "" || rt.ClientSecret == "" || rt.RefreshToken == "" {
		return nil, ferr.New(ferr.InvalidArgument, "refresh token json is missing required fields")
	}

	config := &oauth2.Config{
		ClientID:     rt.ClientID,
		ClientSecret: rt.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       Scopes,
	}
	return &refreshToken{config: config, token: &oauth2.Token{RefreshToken: rt.RefreshToken}}, nil
}

type appDefault struct {
	creds *google.Credentials
}

func (c *appDefault) AccessToken(ctx context.Context) (string, time.Time, error) {
	token, err := c.creds.TokenSource.Token()
	if err != nil {
		return "", time.Time{}, mapTokenError(err)
	}
	return token.AccessToken, token.Expiry, nil
}

// NewAppDefault inspects the runtime environment (GOOGLE_APPLICATION_CREDENTIALS,
// the metadata server, gcloud's well-known file location) the way
// credentials/credentials.go's NewAppDefault does.
func NewAppDefault(ctx context.Context) (Credential, error) {
	creds, err := google.FindDefaultCredentials(ctx, Scopes...)
	if err != nil {
		return nil, ferr.Wrap(ferr.InvalidCredential, err, "finding application default credentials")
	}
	return &appDefault{creds: creds}, nil
}

// mapTokenError translates the oauth2 library's invalid_grant responses into
// ferr.InvalidCredential with an actionable message, grounded on
// auth/token_generator.go's signer error-message style: name the likely
// cause (clock skew or a revoked key) rather than surfacing the bare
// upstream string.
func mapTokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.ErrorCode == "invalid_grant" {
			return ferr.Wrap(ferr.InvalidCredential, err,
				"service account token request was rejected as invalid_grant; "+
					"this usually means the signing key was revoked or the local "+
					"clock has drifted enough that the assertion's iat/exp window "+
					"no longer overlaps the server's")
		}
		return ferr.FromUpstream(ferr.InvalidCredential, retrieveErr.Response.StatusCode, string(retrieveErr.Body))
	}
	return ferr.Wrap(ferr.NetworkError, err, "fetching access token")
}
