// Package testutil provides testing utilities and helpers for the apiguard
// library: a controllable clock, signed JWT builders, and request builders
// used by the policy and throttle tests.
package testutil

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// MockClock provides a controllable time source for deterministic testing.
// Safe for concurrent use.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMockClock creates a mock clock starting at the given time.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

// Now returns the current mock time.
func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the mock time forward by the given duration.
func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}

// Set sets the mock time to a specific value.
func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// testSigningKey signs test JWTs. Policies never verify signatures, so any
// stable key works.
var testSigningKey = []byte("apiguard-test-signing-key")

// SignedJWT builds an HS256-signed JWT with the given claims, panicking on
// failure so tests fail loudly.
func SignedJWT(claims jwt.MapClaims) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(testSigningKey)
	if err != nil {
		panic("testutil: failed to sign test JWT: " + err.Error())
	}
	return signed
}

// StandardClaims returns a claim set that satisfies a policy configured with
// the given issuer and audience, issued at the given time and valid for one
// hour.
func StandardClaims(issuer, audience string, issuedAt time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"iss": issuer,
		"aud": audience,
		"sub": "test-user",
		"iat": issuedAt.Unix(),
		"exp": issuedAt.Add(time.Hour).Unix(),
	}
}

// NewOAuth2Token creates a test OAuth2 token expiring the given duration
// from now. A zero duration produces a token with no expiry.
func NewOAuth2Token(expiresIn time.Duration) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken: GenerateRandomString(32),
		TokenType:   "Bearer",
	}
	if expiresIn != 0 {
		tok.Expiry = time.Now().Add(expiresIn)
	}
	return tok
}

// NewRequest builds an outgoing request to the given URL, panicking on a
// malformed URL.
func NewRequest(method, rawURL string) *http.Request {
	u, err := url.Parse(rawURL)
	if err != nil {
		panic("testutil: invalid URL: " + err.Error())
	}
	return &http.Request{
		Method: method,
		URL:    u,
		Header: make(http.Header),
	}
}

// NewBearerRequest builds an outgoing request carrying the given bearer token.
func NewBearerRequest(method, rawURL, token string) *http.Request {
	req := NewRequest(method, rawURL)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

// GenerateRandomString generates a random base64url string of the given
// length.
func GenerateRandomString(length int) string {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		panic("testutil: crypto/rand.Read failed: " + err.Error())
	}
	s := base64.RawURLEncoding.EncodeToString(b)
	if len(s) > length {
		s = s[:length]
	}
	return s
}
