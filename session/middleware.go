package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/edgeauth/fireauth/ferr"
	"github.com/edgeauth/fireauth/idp"
	fjwt "github.com/edgeauth/fireauth/jwt"
)

// Config holds the middleware's options. The API key and the service
// account are not part of it: they are configured on the idp.Client (and its
// access-token source) passed to NewMiddleware. Redirect options are the two
// fields RedirectPath and RedirectParamName.
type Config struct {
	LoginPath  string
	LogoutPath string

	CookieName          string
	CookieSignatureKeys [][]byte
	CookieOptions       SerializeOptions

	// ExchangeCustomTokens, when true, treats the bearer token presented at
	// LoginPath as a self-signed custom token that must be exchanged for an
	// ID/refresh token pair. When false, the bearer token is itself an ID
	// token, and an optional refresh token travels in the
	// X-Firebase-Refresh-Token header.
	ExchangeCustomTokens bool

	TenantID string

	RedirectPath      string
	RedirectParamName string

	// IsTokenValid, if set, is consulted before verifyIdToken at LoginPath;
	// returning false short-circuits with 401 without contacting upstream.
	IsTokenValid func(token string) bool

	CheckRevoked bool

	OnAuthenticated AdmitHook
	OnError         ErrorHook

	Debug bool
}

// Tokens is the decoded session state attached to the request context on
// ADMIT, and passed to the admit/error hooks.
type Tokens struct {
	IDToken      string
	RefreshToken string
	CustomToken  string
	Claims       *fjwt.Claims
}

// AdmitHook observes a successful authentication. The default is a no-op:
// the middleware calls the wrapped handler regardless.
type AdmitHook func(w http.ResponseWriter, r *http.Request, tokens Tokens)

// ErrorHook observes a non-authentication error (ERROR terminal state). The
// default behaves like UNAUTHED.
type ErrorHook func(w http.ResponseWriter, r *http.Request, err error)

type contextKey int

const tokensContextKey contextKey = 0

// TokensFromContext retrieves the Tokens an ADMIT transition attached to
// the request context, if any.
func TokensFromContext(ctx context.Context) (Tokens, bool) {
	t, ok := ctx.Value(tokensContextKey).(Tokens)
	return t, ok
}

// Middleware drives spec.md §4.9's state machine.
type Middleware struct {
	cfg          Config
	signer       *CookieSigner
	idpClient    *idp.Client
	tokenManager *idp.TokenManager
	now          func() time.Time
}

// NewMiddleware builds a Middleware from cfg, wiring idpClient for token
// exchange and tokenManager for ID-token verification.
func NewMiddleware(cfg Config, idpClient *idp.Client, tokenManager *idp.TokenManager) (*Middleware, error) {
	signer, err := NewCookieSigner(cfg.CookieSignatureKeys...)
	if err != nil {
		return nil, err
	}
	return &Middleware{cfg: cfg, signer: signer, idpClient: idpClient, tokenManager: tokenManager, now: time.Now}, nil
}

// Wrap returns next wrapped with the login/logout/verify/refresh state
// machine.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case m.cfg.LoginPath:
			m.handleLogin(w, r)
		case m.cfg.LogoutPath:
			m.handleLogout(w, r)
		default:
			m.handleVerify(w, r, next)
		}
	})
}

func (m *Middleware) handleLogin(w http.ResponseWriter, r *http.Request) {
	bearer := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(bearer, prefix) {
		writeJSONError(w, http.StatusUnauthorized, ferr.New(ferr.InvalidArgument, "missing bearer token"))
		return
	}
	presented := strings.TrimPrefix(bearer, prefix)

	if m.cfg.IsTokenValid != nil && !m.cfg.IsTokenValid(presented) {
		writeJSONError(w, http.StatusUnauthorized, ferr.New(ferr.InvalidArgument, "token rejected by isTokenValid"))
		return
	}

	var idToken, refreshToken, customToken string
	if m.cfg.ExchangeCustomTokens {
		tokens, err := m.idpClient.ExchangeCustomToken(r.Context(), presented, r.Header.Get("X-Firebase-AppCheck"))
		if err != nil {
			writeJSONError(w, statusFor(err), err)
			return
		}
		idToken, refreshToken, customToken = tokens.IDToken, tokens.RefreshToken, presented
	} else {
		idToken = presented
		refreshToken = r.Header.Get("X-Firebase-Refresh-Token")
	}

	claims, err := m.tokenManager.VerifyIDToken(r.Context(), idToken, m.cfg.CheckRevoked, m.now)
	if err != nil {
		writeJSONError(w, statusFor(err), err)
		return
	}

	payload := Payload{IDToken: idToken, RefreshToken: refreshToken, CustomToken: customToken}
	signed, err := m.signer.Sign(payload)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Add("Set-Cookie", Serialize(m.cfg.CookieName, signed, m.cfg.CookieOptions, m.now()))

	tokens := Tokens{IDToken: idToken, RefreshToken: refreshToken, CustomToken: customToken, Claims: claims}
	if m.cfg.OnAuthenticated != nil {
		m.cfg.OnAuthenticated(w, r, tokens)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (m *Middleware) handleLogout(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Set-Cookie", SerializeLogout(m.cfg.CookieName, m.cfg.CookieOptions))
	w.WriteHeader(http.StatusOK)
}

func (m *Middleware) handleVerify(w http.ResponseWriter, r *http.Request, next http.Handler) {
	cookie, err := r.Cookie(m.cfg.CookieName)
	if err != nil {
		m.unauthed(w, r, next)
		return
	}

	var payload Payload
	if err := m.signer.Verify(cookie.Value, &payload); err != nil {
		m.unauthed(w, r, next)
		return
	}

	claims, err := m.tokenManager.VerifyIDToken(r.Context(), payload.IDToken, m.cfg.CheckRevoked, m.now)
	switch {
	case err == nil:
		m.admit(w, r, next, Tokens{IDToken: payload.IDToken, RefreshToken: payload.RefreshToken, CustomToken: payload.CustomToken, Claims: claims})
	case ferr.Is(err, ferr.TokenExpired) && payload.RefreshToken != "":
		m.refresh(w, r, next, payload)
	case ferr.Is(err, ferr.UserNotFound), ferr.Is(err, ferr.UserDisabled), ferr.Is(err, ferr.TokenRevoked):
		m.unauthed(w, r, next)
	case ferr.Is(err, ferr.InvalidSignature), ferr.Is(err, ferr.NoMatchingKid):
		m.unauthed(w, r, next)
	default:
		m.errorState(w, r, next, err)
	}
}

func (m *Middleware) refresh(w http.ResponseWriter, r *http.Request, next http.Handler, payload Payload) {
	tokens, err := m.idpClient.ExchangeRefreshToken(r.Context(), payload.RefreshToken)
	if err != nil {
		if ferr.Is(err, ferr.UserNotFound) {
			m.unauthed(w, r, next)
			return
		}
		m.errorState(w, r, next, err)
		return
	}

	claims, err := m.tokenManager.VerifyIDToken(r.Context(), tokens.IDToken, false, m.now)
	if err != nil {
		m.errorState(w, r, next, err)
		return
	}

	newPayload := Payload{IDToken: tokens.IDToken, RefreshToken: tokens.RefreshToken, CustomToken: payload.CustomToken}
	signed, err := m.signer.Sign(newPayload)
	if err != nil {
		m.errorState(w, r, next, err)
		return
	}
	w.Header().Add("Set-Cookie", Serialize(m.cfg.CookieName, signed, m.cfg.CookieOptions, m.now()))

	m.admit(w, r, next, Tokens{IDToken: tokens.IDToken, RefreshToken: tokens.RefreshToken, CustomToken: payload.CustomToken, Claims: claims})
}

func (m *Middleware) admit(w http.ResponseWriter, r *http.Request, next http.Handler, tokens Tokens) {
	if m.cfg.OnAuthenticated != nil {
		m.cfg.OnAuthenticated(w, r, tokens)
	}
	ctx := context.WithValue(r.Context(), tokensContextKey, tokens)
	next.ServeHTTP(w, r.WithContext(ctx))
}

func (m *Middleware) unauthed(w http.ResponseWriter, r *http.Request, next http.Handler) {
	if m.cfg.RedirectPath != "" {
		target := m.cfg.RedirectPath + "?" + m.cfg.RedirectParamName + "=" + url.QueryEscape(r.URL.String())
		http.Redirect(w, r, target, http.StatusTemporaryRedirect)
		return
	}
	next.ServeHTTP(w, r)
}

func (m *Middleware) errorState(w http.ResponseWriter, r *http.Request, next http.Handler, err error) {
	if m.cfg.OnError != nil {
		m.cfg.OnError(w, r, err)
		return
	}
	m.unauthed(w, r, next)
}

func statusFor(err error) int {
	switch ferr.CodeOf(err) {
	case ferr.InvalidArgument, ferr.InvalidCredential, ferr.InvalidSignature,
		ferr.NoKidInHeader, ferr.NoMatchingKid, ferr.TokenExpired, ferr.TokenRevoked,
		ferr.UserNotFound, ferr.UserDisabled:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"code":    string(ferr.CodeOf(err)),
		"message": err.Error(),
	})
}
