// Package auth issues and verifies session tokens and serves the local and
// Google sign-in flows.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"csquare/marketplace/marketplace-backend/internal/companies"
	"csquare/marketplace/marketplace-backend/internal/identity"
)

// ErrInvalidToken is returned for tokens that fail verification.
var ErrInvalidToken = errors.New("invalid or expired token")

// Claims is the signed session payload
type Claims struct {
	CompanyID    string `json:"companyId"`
	Slug         string `json:"slug"`
	Name         string `json:"name"`
	AuthProvider string `json:"authProvider"`
	Role         string `json:"role"`
	jwt.RegisteredClaims
}

// Identity returns the caller described by the claims.
func (c *Claims) Identity() identity.Identity {
	return identity.Identity{
		CompanyID:    c.CompanyID,
		Slug:         c.Slug,
		Name:         c.Name,
		AuthProvider: c.AuthProvider,
		Role:         c.Role,
	}
}

// TokenIssuer signs and verifies HS256 session tokens
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates a token issuer
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// TTL returns the lifetime of issued tokens.
func (t *TokenIssuer) TTL() time.Duration {
	return t.ttl
}

// Issue signs a session token for company.
func (t *TokenIssuer) Issue(company *companies.Company) (string, error) {
	provider := string(company.AuthProvider)
	if provider == "" {
		provider = string(companies.AuthProviderLocal)
	}
	role := string(company.Role)
	if role == "" {
		role = string(companies.RoleCompany)
	}

	now := t.now()
	claims := Claims{
		CompanyID:    company.CompanyID,
		Slug:         company.Slug,
		Name:         company.Name,
		AuthProvider: provider,
		Role:         role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   company.CompanyID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies tokenString and returns its claims.
func (t *TokenIssuer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !token.Valid || claims.CompanyID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
