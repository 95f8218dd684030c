package idp

import (
	"context"
	"time"

	"github.com/edgeauth/fireauth/ferr"
	"github.com/edgeauth/fireauth/jwt"
)

// TokenManager orchestrates ID token verification against Secure Token's
// JWKS, the account-revocation check, and refresh-token exchange. Grounded
// on auth/auth.go's VerifyIDTokenAndCheckRevoked, which treats revocation as
// dominant over a token's own validity (spec.md §9: revocation wins over
// isTokenValid).
type TokenManager struct {
	verifier *jwt.Verifier
	client   *Client
	audience string
}

// NewTokenManager binds a TokenManager to projectID's JWKS and Identity
// Platform client, fetching signing keys from FirebaseIDTokenCertURL.
func NewTokenManager(jwksCache *jwt.JWKSCache, client *Client, projectID string) *TokenManager {
	return NewTokenManagerWithJWKSURL(jwksCache, client, projectID, FirebaseIDTokenCertURL)
}

// NewTokenManagerWithJWKSURL is NewTokenManager with an explicit JWKS
// origin, for pointing at a test double or the Auth emulator's key
// endpoint instead of the production Secure Token certificates.
func NewTokenManagerWithJWKSURL(jwksCache *jwt.JWKSCache, client *Client, projectID, jwksURL string) *TokenManager {
	return &TokenManager{
		verifier: jwt.NewVerifier(jwksCache.ForURL(jwksURL)),
		client:   client,
		audience: projectID,
	}
}

// VerifyIDToken checks token's signature and claims. If checkRevoked is set,
// it additionally calls accounts:lookup and rejects tokens for disabled
// accounts and tokens whose auth_time precedes the account's validSince
// time, per spec.md's revocation rule: revocation checking always wins over
// the token's own claimed validity.
func (m *TokenManager) VerifyIDToken(ctx context.Context, token string, checkRevoked bool, now func() time.Time) (*jwt.Claims, error) {
	claims, err := m.verifier.Verify(ctx, token, jwt.Options{
		Audience:    m.audience,
		Issuer:      IDTokenIssuerPrefix + m.audience,
		CurrentDate: now,
		Emulator:    m.client.Emulator(),
	})
	if err != nil {
		return nil, err
	}

	if checkRevoked {
		status, err := m.client.Lookup(ctx, claims.Subject)
		if err != nil {
			return nil, err
		}
		if status.Disabled {
			return nil, ferr.Newf(ferr.UserDisabled, "user account %q is disabled", claims.Subject)
		}
		if !status.ValidTime.IsZero() && claims.AuthTime < status.ValidTime.Unix() {
			return nil, ferr.New(ferr.TokenRevoked, "id token was revoked")
		}
	}
	return claims, nil
}

// VerifyAndRefreshExpiredIDToken verifies token without the revocation
// check; if verification fails with TOKEN_EXPIRED, it exchanges refreshToken
// for a new session and re-verifies the new ID token, per spec.md §4.6. Any
// other verification error is returned as is.
func (m *TokenManager) VerifyAndRefreshExpiredIDToken(ctx context.Context, token, refreshToken string, now func() time.Time) (*jwt.Claims, *SessionTokens, error) {
	claims, err := m.VerifyIDToken(ctx, token, false, now)
	if err == nil {
		return claims, nil, nil
	}
	if !ferr.Is(err, ferr.TokenExpired) {
		return nil, nil, err
	}

	tokens, err := m.client.ExchangeRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, nil, err
	}

	fresh, err := m.VerifyIDToken(ctx, tokens.IDToken, false, now)
	if err != nil {
		return nil, nil, err
	}
	return fresh, tokens, nil
}
