package server

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/harborchat/harborchat/internal/platform/timeouts"
)

// authorizer resolves a bearer credential to a principal id.
type authorizer interface {
	Authenticate(ctx context.Context, accessToken string) (string, error)
}

// accessTokenAuthorizer verifies credentials in two modes, in order:
// locally-verified Ed25519 JWT access tokens, then remote HTTP token
// introspection against the auth service.
type accessTokenAuthorizer struct {
	issuer   string
	audience string
	key      ed25519.PublicKey
	now      func() time.Time

	authBaseURL    string
	resourceSecret string
	httpClient     *http.Client
}

// accessTokenClaims captures the identity claims of a local access token.
type accessTokenClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

type authIntrospectResponse struct {
	Active bool   `json:"active"`
	UserID string `json:"user_id"`
}

func newAccessTokenAuthorizer(config Config, now func() time.Time) (*accessTokenAuthorizer, error) {
	if now == nil {
		now = time.Now
	}
	a := &accessTokenAuthorizer{
		issuer:         strings.TrimSpace(config.AccessTokenIssuer),
		audience:       strings.TrimSpace(config.AccessTokenAudience),
		now:            now,
		authBaseURL:    strings.TrimSpace(config.AuthBaseURL),
		resourceSecret: strings.TrimSpace(config.OAuthResourceSecret),
	}

	publicKey := strings.TrimSpace(config.AccessTokenPublicKey)
	if publicKey != "" {
		keyBytes, err := decodeBase64(publicKey)
		if err != nil {
			return nil, fmt.Errorf("decode access token public key: %w", err)
		}
		if len(keyBytes) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("access token public key must be %d bytes", ed25519.PublicKeySize)
		}
		if a.issuer == "" || a.audience == "" {
			return nil, fmt.Errorf("access token issuer and audience are required with a public key")
		}
		a.key = ed25519.PublicKey(keyBytes)
	}

	if a.authBaseURL != "" && a.resourceSecret != "" {
		a.httpClient = &http.Client{Timeout: timeouts.Introspection}
	}
	if a.key == nil && a.httpClient == nil {
		return nil, fmt.Errorf("no token verification mode is configured")
	}
	return a, nil
}

// Authenticate resolves the token to a user id. Local verification wins when
// it succeeds; introspection is the fallback.
func (a *accessTokenAuthorizer) Authenticate(ctx context.Context, accessToken string) (string, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return "", errors.New("access token is required")
	}
	if a == nil {
		return "", errors.New("auth is not configured")
	}

	if a.key != nil {
		userID, err := a.verifyLocal(accessToken)
		if err == nil {
			return userID, nil
		}
		if a.httpClient == nil {
			return "", err
		}
	}
	return a.introspect(ctx, accessToken)
}

func (a *accessTokenAuthorizer) verifyLocal(accessToken string) (string, error) {
	var claims accessTokenClaims
	_, err := jwt.ParseWithClaims(accessToken, &claims, func(token *jwt.Token) (any, error) {
		return a.key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithIssuer(a.issuer),
		jwt.WithAudience(a.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return "", fmt.Errorf("verify access token: %w", err)
	}

	userID := strings.TrimSpace(claims.UserID)
	if userID == "" {
		userID = strings.TrimSpace(claims.Subject)
	}
	if userID == "" {
		return "", errors.New("access token carries no user id")
	}
	return userID, nil
}

func (a *accessTokenAuthorizer) introspect(ctx context.Context, accessToken string) (string, error) {
	if a.httpClient == nil {
		return "", errors.New("auth introspection is not configured")
	}

	endpoint := strings.TrimRight(a.authBaseURL, "/") + "/introspect"
	authCtx, cancel := context.WithTimeout(ctx, timeouts.Introspection)
	defer cancel()

	req, err := http.NewRequestWithContext(authCtx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build introspection request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("X-Resource-Secret", a.resourceSecret)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call auth introspection: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth introspection status %d", resp.StatusCode)
	}

	var payload authIntrospectResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode introspection response: %w", err)
	}
	if !payload.Active {
		return "", errors.New("inactive access token")
	}

	userID := strings.TrimSpace(payload.UserID)
	if userID == "" {
		return "", errors.New("introspection returned empty user id")
	}
	return userID, nil
}

func decodeBase64(value string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	var lastErr error
	for _, encoding := range encodings {
		decoded, err := encoding.DecodeString(value)
		if err == nil {
			return decoded, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
