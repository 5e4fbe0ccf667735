package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"zervios-cms/internal/metadata"
)

// Claims represents the JWT claims.
type Claims struct {
	jwt.RegisteredClaims
	Collection string   `json:"collection"`
	Email      string   `json:"email,omitempty"`
	Roles      []string `json:"roles"`
}

// Identity returns the caller snapshot carried by the token.
func (c *Claims) Identity() metadata.Identity {
	return metadata.Identity{
		ID:         c.Subject,
		Collection: c.Collection,
		Email:      c.Email,
		Roles:      c.Roles,
	}
}

// Tokens issues and verifies HS256 identity tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), ttl: ttl}
}

// Issue creates a signed JWT for the identity and returns it with its expiry.
func (t *Tokens) Issue(id metadata.Identity) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(t.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Collection: id.Collection,
		Email:      id.Email,
		Roles:      id.Roles,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse validates and parses a JWT, returning the claims.
func (t *Tokens) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
