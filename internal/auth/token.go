// Package auth verifies the bearer tokens operators present. Tokens are
// HS256 JWTs minted by the identity service.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Operator is the identity every write is attributed to.
type Operator struct {
	ID        string `json:"sub"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	CompanyID int64  `json:"company_id"`
}

type Claims struct {
	Name      string `json:"name"`
	Role      string `json:"role"`
	CompanyID int64  `json:"company_id"`
	jwt.RegisteredClaims
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// IssueToken signs a token for op valid for ttl. Used by tests and the
// -issue-token development flag.
func IssueToken(secret []byte, op Operator, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name:      op.Name,
		Role:      op.Role,
		CompanyID: op.CompanyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   op.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies the signature and expiry and returns the operator.
func ParseToken(secret []byte, token string) (Operator, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Operator{}, ErrExpiredToken
		}
		return Operator{}, ErrInvalidToken
	}
	if !parsed.Valid || claims.Subject == "" || claims.Name == "" || claims.CompanyID <= 0 {
		return Operator{}, ErrInvalidToken
	}
	return Operator{
		ID:        claims.Subject,
		Name:      claims.Name,
		Role:      claims.Role,
		CompanyID: claims.CompanyID,
	}, nil
}
