// Package auth authenticates POS terminals and issues their access tokens.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	appctx "ncfpos/internal/core/context"
)

// JWTConfig holds JWT configuration.
type JWTConfig struct {
	Secret         string
	Issuer         string
	AccessTokenTTL time.Duration
}

// DefaultJWTConfig returns a 12h token, one cashier shift.
func DefaultJWTConfig(secret string) JWTConfig {
	return JWTConfig{
		Secret:         secret,
		Issuer:         "ncfpos",
		AccessTokenTTL: 12 * time.Hour,
	}
}

// Claims carried by a terminal token.
type Claims struct {
	jwt.RegisteredClaims
	TerminalID string   `json:"tid"`
	Name       string   `json:"name,omitempty"`
	Roles      []string `json:"roles"`
}

// JWTService signs and validates HS256 terminal tokens.
type JWTService struct {
	config JWTConfig
}

// NewJWTService creates a new JWT service.
func NewJWTService(config JWTConfig) *JWTService {
	return &JWTService{config: config}
}

// GenerateAccessToken signs a token for terminal t.
func (s *JWTService) GenerateAccessToken(t Terminal) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(s.config.AccessTokenTTL)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   t.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		TerminalID: t.ID,
		Name:       t.Name,
		Roles:      t.Roles,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken checks signature, issuer and expiry and returns the terminal context.
func (s *JWTService) ValidateToken(tokenString string) (*appctx.TerminalContext, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	}, jwt.WithIssuer(s.config.Issuer))
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.TerminalID == "" {
		return nil, fmt.Errorf("invalid token claims")
	}

	return &appctx.TerminalContext{
		TerminalID: claims.TerminalID,
		Name:       claims.Name,
		Roles:      claims.Roles,
	}, nil
}
