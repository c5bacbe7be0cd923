// Package auth verifies the access tokens that identify analytics users.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenExpiry is the lifetime of tokens issued by IssueAccessToken.
const AccessTokenExpiry = 15 * time.Minute

// Default leeway for token validation.
const DefaultLeeway = 30 * time.Second

// ErrInvalidToken is returned when token validation fails.
var ErrInvalidToken = errors.New("invalid token")

// ErrExpiredToken is returned when the token has expired.
var ErrExpiredToken = errors.New("token has expired")

// ErrEmptyUserID is returned when userID is empty.
var ErrEmptyUserID = errors.New("userID cannot be empty")

// ErrMissingSecret is returned when a verifier is built without a secret.
var ErrMissingSecret = errors.New("signing secret cannot be empty")

// Claims are the access token claims. The subject carries the user id, as
// in tokens issued by the hosted auth provider.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// UserID returns the subject claim.
func (c *Claims) UserID() string {
	return c.Subject
}

// TokenVerifier validates HS256 access tokens.
// Supports dual-key rotation: tokens are issued with the current secret but
// accepted when signed with either the current or the previous one.
type TokenVerifier struct {
	currentSecret  []byte
	previousSecret []byte
	leeway         time.Duration
}

// NewTokenVerifier creates a verifier. previousSecret may be empty when no
// rotation is in progress; leeway <= 0 uses DefaultLeeway.
func NewTokenVerifier(currentSecret, previousSecret string, leeway time.Duration) (*TokenVerifier, error) {
	if currentSecret == "" {
		return nil, ErrMissingSecret
	}
	if leeway <= 0 {
		leeway = DefaultLeeway
	}
	v := &TokenVerifier{
		currentSecret: []byte(currentSecret),
		leeway:        leeway,
	}
	if previousSecret != "" {
		v.previousSecret = []byte(previousSecret)
	}
	return v, nil
}

// IssueAccessToken signs a token for userID with the current secret.
func (v *TokenVerifier) IssueAccessToken(userID string) (string, error) {
	if userID == "" {
		return "", ErrEmptyUserID
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AccessTokenExpiry)),
		},
		Role: "authenticated",
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.currentSecret)
}

// Verify parses and validates a token, returning its claims.
// Tokens without a subject are rejected.
func (v *TokenVerifier) Verify(tokenString string) (*Claims, error) {
	claims, err := v.parse(tokenString, v.currentSecret)
	if err != nil && v.previousSecret != nil && !errors.Is(err, jwt.ErrTokenExpired) {
		claims, err = v.parse(tokenString, v.previousSecret)
	}
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (v *TokenVerifier) parse(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalidToken
		}
		return secret, nil
	}, jwt.WithLeeway(v.leeway))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
