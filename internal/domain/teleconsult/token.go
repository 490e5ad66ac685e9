package teleconsult

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "cabinet-teleconsult"

// Claims are carried by a room join token.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
	Room      string `json:"room"`
	Tenant    string `json:"tenant"`
	Role      string `json:"role"`
}

type tokenSigner struct {
	key []byte
	ttl time.Duration
}

func (t tokenSigner) sign(c Claims, now time.Time) (string, time.Time, error) {
	exp := now.Add(t.ttl)
	c.Issuer = tokenIssuer
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(exp)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(t.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign join token: %w", err)
	}
	return signed, exp, nil
}

func (t tokenSigner) parse(raw string, now func() time.Time) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return t.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.SessionID == "" || claims.Room == "" || claims.Tenant == "" {
		return nil, fmt.Errorf("%w: missing claims", ErrInvalidToken)
	}
	if claims.Role != RolePractitioner && claims.Role != RolePatient {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	return claims, nil
}
