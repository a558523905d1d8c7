// Package auth issues and checks the credentials of the InfoRx API.
//
// SESSION MODEL:
//  1. Sign-up/sign-in (password) or the Google callback ends with the server
//     minting an HS256 access token for the user's id.
//  2. Browsers receive it in the HttpOnly "token" cookie; API clients (the
//     session client, the PDF extraction call) send it as
//     "Authorization: Bearer <jwt>". Both are accepted everywhere.
//  3. Tokens are stateless. Sign-out clears the cookie and the token simply
//     expires.
//
// AUDIENCES:
// The same secret signs two kinds of tokens, told apart by the "aud" claim:
//   - "access"         → API sessions
//   - "password-reset" → the link mailed by the reset flow
//
// A reset token is therefore useless as a session and vice versa.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuer = "inforx"

	AudienceAccess = "access"
	AudienceReset  = "password-reset"

	DefaultAccessTTL = 24 * time.Hour
	ResetTTL         = 30 * time.Minute
)

// ErrTokenExpired is returned by Validate for a well-formed but expired token.
var ErrTokenExpired = errors.New("auth: token expired")

// TokenService handles JWT creation and validation.
type TokenService struct {
	secret    []byte
	accessTTL time.Duration
}

// NewTokenService creates a TokenService with the given secret.
// Example: JWT_SECRET=$(openssl rand -hex 32)
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret), accessTTL: DefaultAccessTTL}, nil
}

// WithAccessTTL overrides the session lifetime.
func (s *TokenService) WithAccessTTL(d time.Duration) *TokenService {
	if d > 0 {
		s.accessTTL = d
	}
	return s
}

// AccessTTL is the lifetime of tokens from Generate; the cookie MaxAge follows it.
func (s *TokenService) AccessTTL() time.Duration {
	return s.accessTTL
}

// claims is the JWT payload. "sub" carries the user id.
type claims struct {
	jwt.RegisteredClaims
}

// Generate creates a signed access token for userID.
func (s *TokenService) Generate(userID string) (string, error) {
	return s.sign(userID, AudienceAccess, s.accessTTL)
}

// GenerateWithDuration creates an access token with a custom lifetime.
// Used for short-lived service calls and in tests.
func (s *TokenService) GenerateWithDuration(userID string, d time.Duration) (string, error) {
	return s.sign(userID, AudienceAccess, d)
}

// GenerateReset creates a password-reset token for userID.
func (s *TokenService) GenerateReset(userID string) (string, error) {
	return s.sign(userID, AudienceReset, ResetTTL)
}

func (s *TokenService) sign(userID, audience string, d time.Duration) (string, error) {
	now := time.Now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate verifies an access token and returns its user id.
func (s *TokenService) Validate(tokenStr string) (string, error) {
	return s.parse(tokenStr, AudienceAccess)
}

// ValidateReset verifies a password-reset token and returns its user id.
func (s *TokenService) ValidateReset(tokenStr string) (string, error) {
	return s.parse(tokenStr, AudienceReset)
}

// parse checks signature, algorithm (HS256 only, so "none" and RS/HS
// confusion are rejected), issuer, audience and expiry.
func (s *TokenService) parse(tokenStr, audience string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("auth: invalid token claims")
	}

	if c.Subject == "" {
		return "", fmt.Errorf("auth: token has no subject")
	}

	return c.Subject, nil
}
