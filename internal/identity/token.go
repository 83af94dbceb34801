package identity

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims is the payload of a mobile bearer token. The token is not the
// source of truth: it only references a session row, which is re-checked on
// every request.
type SessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// MintSessionToken signs an HS256 bearer token embedding {userId, sessionId}
// with its own expiry, independent of the session row's expiry.
func MintSessionToken(secret []byte, userID, sessionID string, ttl time.Duration) (string, error) {
	claims := SessionClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseSessionToken verifies signature and expiry and returns the claims.
func ParseSessionToken(secret []byte, raw string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !tok.Valid || claims.Subject == "" || claims.SessionID == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
