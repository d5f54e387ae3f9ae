package api

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// SignLocalToken returns an HS256 token for userID that an Auth built with
// WithSharedSecret accepts. An empty audience omits the aud claim.
func SignLocalToken(secret []byte, userID, audience string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("shared secret is required")
	}
	if userID == "" {
		return "", errors.New("user id is required")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if audience != "" {
		claims["aud"] = audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
