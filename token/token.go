// Package token provides the HMAC token signer and verifier a host
// hands to its privileged services.
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultIssuer identifies tokens minted by an in-process host.
const DefaultIssuer = "weft-host"

// HMACAuthority signs and verifies subject tokens with a shared
// secret. It implements both service.Signer and service.Verifier.
type HMACAuthority struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// Option configures an HMACAuthority.
type Option func(*HMACAuthority)

// WithIssuer overrides the issuer claim.
func WithIssuer(issuer string) Option {
	return func(a *HMACAuthority) { a.issuer = issuer }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *HMACAuthority) { a.now = now }
}

// NewHMACAuthority constructs an authority with the given shared
// secret. An empty secret is a programming error.
func NewHMACAuthority(secret []byte, opts ...Option) *HMACAuthority {
	if len(secret) == 0 {
		panic("token: secret is required")
	}
	a := &HMACAuthority{
		secret: secret,
		issuer: DefaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Sign mints a token for subject with the given lifetime.
func (a *HMACAuthority) Sign(subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("token: subject is required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("token: lifetime must be positive, got %s", ttl)
	}
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify validates a token and returns its subject.
func (a *HMACAuthority) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithIssuer(a.issuer), jwt.WithTimeFunc(a.now))
	if err != nil {
		return "", fmt.Errorf("token: verification failed: %w", err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", fmt.Errorf("token: missing subject")
	}
	return claims.Subject, nil
}
