package tokenstore

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Expiry reads the exp claim of a JWT access token without verifying it.
// The backend is the authority on validity; this is informational only.
// Opaque tokens and tokens without exp return the zero time.
func Expiry(accessToken string) time.Time {
	if accessToken == "" {
		return time.Time{}
	}

	token, _, err := new(jwt.Parser).ParseUnverified(accessToken, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}

	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
