// Package auth issues and checks the bearer tokens of the read API.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ScopeRead is the only scope the read API knows.
const ScopeRead = "read"

var ErrNoSecret = errors.New("jwt secret not configured")

type TokenService struct {
	Secret   []byte
	Issuer   string
	Duration time.Duration
}

func NewTokenService(secret, issuer string, d time.Duration) TokenService {
	if d <= 0 {
		d = 24 * time.Hour
	}
	return TokenService{Secret: []byte(secret), Issuer: issuer, Duration: d}
}

// Enabled reports whether tokens are checked at all.
func (ts TokenService) Enabled() bool { return len(ts.Secret) > 0 }

type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// Sign mints a token for an API client (a dashboard, a cron job).
func (ts TokenService) Sign(subject, scope string) (string, time.Time, error) {
	if !ts.Enabled() {
		return "", time.Time{}, ErrNoSecret
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", time.Time{}, fmt.Errorf("token subject required")
	}
	if scope == "" {
		scope = ScopeRead
	}

	now := time.Now()
	exp := now.Add(ts.Duration)
	claims := Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.Issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(ts.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return s, exp, nil
}

func (ts TokenService) Parse(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if ts.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(ts.Issuer))
	}
	tok, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		return ts.Secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
