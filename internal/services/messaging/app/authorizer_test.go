package server

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newSigningKey(t *testing.T) (ed25519.PrivateKey, string) {
	t.Helper()
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return private, base64.StdEncoding.EncodeToString(public)
}

func signAccessToken(t *testing.T, key ed25519.PrivateKey, claims accessTokenClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func localTokenConfig(publicKey string) Config {
	return Config{
		AccessTokenIssuer:    "https://auth.example.com",
		AccessTokenAudience:  "messaging",
		AccessTokenPublicKey: publicKey,
	}
}

func TestAuthorizerVerifiesLocalToken(t *testing.T) {
	t.Parallel()

	private, public := newSigningKey(t)
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	a, err := newAccessTokenAuthorizer(localTokenConfig(public), func() time.Time { return now })
	if err != nil {
		t.Fatalf("new authorizer: %v", err)
	}

	token := signAccessToken(t, private, accessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://auth.example.com",
			Audience:  jwt.ClaimStrings{"messaging"},
			Subject:   "subject-1",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		UserID: "user-1",
	})

	userID, err := a.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("userID = %q, want %q", userID, "user-1")
	}
}

func TestAuthorizerLocalTokenFallsBackToSubject(t *testing.T) {
	t.Parallel()

	private, public := newSigningKey(t)
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	a, err := newAccessTokenAuthorizer(localTokenConfig(public), func() time.Time { return now })
	if err != nil {
		t.Fatalf("new authorizer: %v", err)
	}

	token := signAccessToken(t, private, accessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://auth.example.com",
			Audience:  jwt.ClaimStrings{"messaging"},
			Subject:   "user-2",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	})

	userID, err := a.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if userID != "user-2" {
		t.Fatalf("userID = %q, want %q", userID, "user-2")
	}
}

func TestAuthorizerRejectsBadLocalTokens(t *testing.T) {
	t.Parallel()

	private, public := newSigningKey(t)
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name   string
		claims accessTokenClaims
	}{
		{
			name: "expired",
			claims: accessTokenClaims{
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:    "https://auth.example.com",
					Audience:  jwt.ClaimStrings{"messaging"},
					ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
				},
				UserID: "user-1",
			},
		},
		{
			name: "wrong issuer",
			claims: accessTokenClaims{
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:    "https://other.example.com",
					Audience:  jwt.ClaimStrings{"messaging"},
					ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
				},
				UserID: "user-1",
			},
		},
		{
			name: "wrong audience",
			claims: accessTokenClaims{
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:    "https://auth.example.com",
					Audience:  jwt.ClaimStrings{"other-service"},
					ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
				},
				UserID: "user-1",
			},
		},
		{
			name: "missing expiry",
			claims: accessTokenClaims{
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:   "https://auth.example.com",
					Audience: jwt.ClaimStrings{"messaging"},
				},
				UserID: "user-1",
			},
		},
		{
			name: "no user id",
			claims: accessTokenClaims{
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:    "https://auth.example.com",
					Audience:  jwt.ClaimStrings{"messaging"},
					ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
				},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			a, err := newAccessTokenAuthorizer(localTokenConfig(public), func() time.Time { return now })
			if err != nil {
				t.Fatalf("new authorizer: %v", err)
			}
			token := signAccessToken(t, private, tc.claims)
			if _, err := a.Authenticate(context.Background(), token); err == nil {
				t.Fatal("expected authentication failure")
			}
		})
	}
}

func TestAuthorizerRejectsTokenSignedByOtherKey(t *testing.T) {
	t.Parallel()

	_, public := newSigningKey(t)
	otherPrivate, _ := newSigningKey(t)
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	a, err := newAccessTokenAuthorizer(localTokenConfig(public), func() time.Time { return now })
	if err != nil {
		t.Fatalf("new authorizer: %v", err)
	}

	token := signAccessToken(t, otherPrivate, accessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://auth.example.com",
			Audience:  jwt.ClaimStrings{"messaging"},
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		UserID: "user-1",
	})
	if _, err := a.Authenticate(context.Background(), token); err == nil {
		t.Fatal("expected signature rejection")
	}
}

func TestAuthorizerIntrospection(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer token-1")
		}
		if got := r.Header.Get("X-Resource-Secret"); got != "secret-1" {
			t.Errorf("X-Resource-Secret = %q, want %q", got, "secret-1")
		}
		if r.URL.Path != "/introspect" {
			t.Errorf("path = %q, want /introspect", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(authIntrospectResponse{Active: true, UserID: "user-1"})
	}))
	t.Cleanup(srv.Close)

	a, err := newAccessTokenAuthorizer(Config{
		AuthBaseURL:         srv.URL,
		OAuthResourceSecret: "secret-1",
	}, nil)
	if err != nil {
		t.Fatalf("new authorizer: %v", err)
	}

	userID, err := a.Authenticate(context.Background(), "token-1")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("userID = %q, want %q", userID, "user-1")
	}
}

func TestAuthorizerIntrospectionInactiveToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(authIntrospectResponse{Active: false})
	}))
	t.Cleanup(srv.Close)

	a, err := newAccessTokenAuthorizer(Config{
		AuthBaseURL:         srv.URL,
		OAuthResourceSecret: "secret-1",
	}, nil)
	if err != nil {
		t.Fatalf("new authorizer: %v", err)
	}

	if _, err := a.Authenticate(context.Background(), "token-1"); err == nil {
		t.Fatal("expected error for inactive token")
	}
}

func TestAuthorizerFallsBackToIntrospection(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(authIntrospectResponse{Active: true, UserID: "user-3"})
	}))
	t.Cleanup(srv.Close)

	_, public := newSigningKey(t)
	config := localTokenConfig(public)
	config.AuthBaseURL = srv.URL
	config.OAuthResourceSecret = "secret-1"

	a, err := newAccessTokenAuthorizer(config, nil)
	if err != nil {
		t.Fatalf("new authorizer: %v", err)
	}

	userID, err := a.Authenticate(context.Background(), "opaque-token")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if userID != "user-3" {
		t.Fatalf("userID = %q, want %q", userID, "user-3")
	}
}

func TestNewAccessTokenAuthorizerValidation(t *testing.T) {
	t.Parallel()

	_, public := newSigningKey(t)

	tests := []struct {
		name   string
		config Config
	}{
		{name: "no verification mode", config: Config{}},
		{
			name:   "introspection missing secret",
			config: Config{AuthBaseURL: "https://auth.example.com"},
		},
		{
			name:   "bad public key encoding",
			config: localTokenConfig("not-base64!!!"),
		},
		{
			name:   "wrong key size",
			config: localTokenConfig(base64.StdEncoding.EncodeToString([]byte("short"))),
		},
		{
			name: "key without issuer",
			config: Config{
				AccessTokenAudience:  "messaging",
				AccessTokenPublicKey: public,
			},
		},
		{
			name: "key without audience",
			config: Config{
				AccessTokenIssuer:    "https://auth.example.com",
				AccessTokenPublicKey: public,
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if _, err := newAccessTokenAuthorizer(tc.config, nil); err == nil {
				t.Fatal("expected configuration error")
			}
		})
	}
}

func TestAuthorizerRequiresToken(t *testing.T) {
	t.Parallel()

	_, public := newSigningKey(t)
	a, err := newAccessTokenAuthorizer(localTokenConfig(public), nil)
	if err != nil {
		t.Fatalf("new authorizer: %v", err)
	}
	if _, err := a.Authenticate(context.Background(), "   "); err == nil {
		t.Fatal("expected error for blank token")
	}
}
