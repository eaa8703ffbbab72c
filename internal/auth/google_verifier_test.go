package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGoogleVerifierValidatesTokenUsingJWKS(t *testing.T) {
	privateKey, jwksServer := newJWKSFixture(t)
	defer jwksServer.Close()

	signedToken := signGoogleToken(t, privateKey, jwt.MapClaims{
		"aud":   "test-client",
		"iss":   "https://accounts.google.com",
		"sub":   "109876543210987654321",
		"name":  "Alice Example",
		"email": "alice@example.com",
		"exp":   time.Now().UTC().Add(5 * time.Minute).Unix(),
		"iat":   time.Now().UTC().Unix(),
	})

	verifier, err := NewGoogleVerifier(GoogleVerifierConfig{
		Audience:       "test-client",
		JWKSURL:        jwksServer.URL + "/oauth2/v3/certs",
		AllowedIssuers: []string{"https://accounts.google.com", "accounts.google.com"},
		HTTPClient:     jwksServer.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	claims, err := verifier.Verify(context.Background(), signedToken)
	if err != nil {
		t.Fatalf("expected verification to succeed: %v", err)
	}

	if claims.Subject != "109876543210987654321" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}
	if claims.Audience != "test-client" {
		t.Fatalf("unexpected audience %s", claims.Audience)
	}
	if claims.Name != "Alice Example" {
		t.Fatalf("unexpected name %s", claims.Name)
	}
}

func TestGoogleVerifierActsAsLoginProvider(t *testing.T) {
	privateKey, jwksServer := newJWKSFixture(t)
	defer jwksServer.Close()

	signedToken := signGoogleToken(t, privateKey, jwt.MapClaims{
		"aud":   "test-client",
		"iss":   "accounts.google.com",
		"sub":   "42",
		"email": "bob@example.com",
		"exp":   time.Now().UTC().Add(5 * time.Minute).Unix(),
		"iat":   time.Now().UTC().Unix(),
	})

	verifier, err := NewGoogleVerifier(GoogleVerifierConfig{
		Audience:   "test-client",
		JWKSURL:    jwksServer.URL,
		HTTPClient: jwksServer.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	if verifier.Name() != "google" {
		t.Fatalf("unexpected provider name %q", verifier.Name())
	}

	verified, err := verifier.VerifyCredentials(context.Background(), signedToken)
	if err != nil {
		t.Fatalf("expected credential verification to succeed: %v", err)
	}
	if verified.Subject != "42" {
		t.Fatalf("unexpected subject %s", verified.Subject)
	}
	// Without a name claim the email becomes the display name.
	if verified.Username != "bob@example.com" {
		t.Fatalf("unexpected username %s", verified.Username)
	}

	_, err = verifier.VerifyCredentials(context.Background(), "not-a-token")
	if !errors.Is(err, ErrCredentialsRejected) {
		t.Fatalf("expected credentials rejected error, got %v", err)
	}
}

func TestGoogleVerifierRejectsInvalidAudience(t *testing.T) {
	privateKey, jwksServer := newJWKSFixture(t)
	defer jwksServer.Close()

	signedToken := signGoogleToken(t, privateKey, jwt.MapClaims{
		"aud": "unexpected-client",
		"iss": "https://accounts.google.com",
		"sub": "user-123",
		"exp": time.Now().UTC().Add(5 * time.Minute).Unix(),
		"iat": time.Now().UTC().Unix(),
	})

	verifier, err := NewGoogleVerifier(GoogleVerifierConfig{
		Audience:       "test-client",
		JWKSURL:        jwksServer.URL,
		AllowedIssuers: []string{"https://accounts.google.com"},
		HTTPClient:     jwksServer.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	_, err = verifier.Verify(context.Background(), signedToken)
	if err == nil {
		t.Fatalf("expected verification to fail for mismatched audience")
	}
}

func TestNewGoogleVerifierRequiresAudienceAndJWKS(t *testing.T) {
	_, err := NewGoogleVerifier(GoogleVerifierConfig{
		Audience:       "",
		JWKSURL:        "https://example.com/jwks",
		AllowedIssuers: []string{"https://accounts.google.com"},
	})
	if !errors.Is(err, ErrInvalidVerifierConfig) {
		t.Fatalf("expected invalid verifier config error, got %v", err)
	}
	if !strings.Contains(err.Error(), errMissingAudienceConfig.Error()) {
		t.Fatalf("expected audience validation error to be reported, got %v", err)
	}

	_, err = NewGoogleVerifier(GoogleVerifierConfig{
		Audience:       "test-client",
		JWKSURL:        " ",
		AllowedIssuers: []string{"https://accounts.google.com"},
	})
	if !errors.Is(err, ErrInvalidVerifierConfig) {
		t.Fatalf("expected invalid verifier config error, got %v", err)
	}
	if !strings.Contains(err.Error(), errMissingJWKSURL.Error()) {
		t.Fatalf("expected jwks validation error to be reported, got %v", err)
	}
}

func TestNewGoogleVerifierRejectsEmptyIssuerList(t *testing.T) {
	_, err := NewGoogleVerifier(GoogleVerifierConfig{
		Audience:       "test-client",
		JWKSURL:        "https://example.com/jwks",
		AllowedIssuers: []string{"", "   "},
	})
	if !errors.Is(err, ErrInvalidVerifierConfig) {
		t.Fatalf("expected invalid verifier config error, got %v", err)
	}
	if !strings.Contains(err.Error(), errNoAllowedIssuers.Error()) {
		t.Fatalf("expected allowed issuers validation error to be reported, got %v", err)
	}
}

func newJWKSFixture(t *testing.T) (*rsa.PrivateKey, *httptest.Server) {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	publicKey := privateKey.PublicKey
	jwksResponse := map[string]any{
		"keys": []any{map[string]string{
			"kty": "RSA",
			"alg": "RS256",
			"kid": "test-key",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(publicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(publicKey.E)).Bytes()),
		}},
	}

	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(jwksResponse)
	}))
	return privateKey, jwksServer
}

func signGoogleToken(t *testing.T, privateKey *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-key"
	signedToken, err := token.SignedString(privateKey)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signedToken
}
