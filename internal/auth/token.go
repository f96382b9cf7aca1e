// Package auth issues and validates the bearer tokens that gate the HTTP API.
// A token names the client key whose workspaces it may drive.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrInvalidToken = errors.New("invalid token")
)

const (
	DefaultIssuer   = "vibephp"
	DefaultTokenTTL = 24 * time.Hour
)

// Claims are the JWT claims of a client token.
type Claims struct {
	ClientKey string `json:"client_key"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies HS256 client tokens.
type TokenService struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenService creates a service signing with secret.
func NewTokenService(secret string) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		issuer: DefaultIssuer,
		now:    time.Now,
	}
}

// Issue returns a signed token for clientKey valid for ttl.
func (s *TokenService) Issue(clientKey string, ttl time.Duration) (string, time.Time, error) {
	if clientKey == "" {
		return "", time.Time{}, errors.New("client key is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := s.now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		ClientKey: clientKey,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   clientKey,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate parses tokenString and returns its claims.
func (s *TokenService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.ClientKey == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
