package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/greenops/greenops/internal/server/models"
)

// Claims carries the operator identity inside a session token.
type Claims struct {
	UserID   string `json:"uid"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// JWTManager issues and verifies operator session tokens (HS256).
type JWTManager struct {
	secret []byte
	expiry time.Duration
}

// NewJWTManager returns a manager signing with secret. A zero expiry defaults
// to 24 hours.
func NewJWTManager(secret []byte, expiry time.Duration) *JWTManager {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &JWTManager{secret: secret, expiry: expiry}
}

// Issue creates a signed session token for the given operator.
func (m *JWTManager) Issue(userID, username, role string) (string, time.Time, error) {
	expiresAt := time.Now().UTC().Add(m.expiry)
	claims := Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify parses and validates a session token. Failures are reported as
// ErrUnauthorized without detailing which part of the credential was wrong.
func (m *JWTManager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, models.ErrUnauthorized
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, models.ErrUnauthorized
	}
	return claims, nil
}
