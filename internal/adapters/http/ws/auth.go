package ws

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Authenticator checks HS256 bearer tokens presented on upgrade.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator returns nil when secret is empty, meaning no auth.
func NewAuthenticator(secret string) *Authenticator {
	if secret == "" {
		return nil
	}
	return &Authenticator{secret: []byte(secret)}
}

// Verify parses and validates a signed token.
func (a *Authenticator) Verify(tokenString string) error {
	if tokenString == "" {
		return fmt.Errorf("%w: missing token", ErrUnauthorized)
	}

	token, err := jwt.Parse(tokenString, func(_ *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !token.Valid {
		return fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	return nil
}

// tokenFromRequest reads a bearer token from the Authorization header or
// the token query parameter. Browsers cannot set headers on websocket
// upgrades, hence the fallback.
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}
