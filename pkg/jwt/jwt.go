package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenExpired indicates the token has expired
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid indicates the token is malformed or has a bad signature
	ErrTokenInvalid = errors.New("token invalid")
)

// Claims carries the identity resolved from a client token. The chat
// core trusts this result and does not re-authenticate (issuing tokens
// is the identity service's job).
type Claims struct {
	UserId      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken issues a token for a user. Used by dev tooling and tests;
// production tokens come from the identity service with the same claims.
func GenerateToken(userId, displayName, role, secret string, expire time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserId:      userId,
		DisplayName: displayName,
		Role:        role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expire)),
			Subject:   userId,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ResolveUser validates a token and returns the identity it carries.
func ResolveUser(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.UserId == "" {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}
