package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is what the client can read from its own access token. The signature is
// not verified: the values are for display and for skipping obviously expired tokens.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// Expired reports whether the token carries an expiry that is before now.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// Claims parses the current access token. ok is false when there is no token or it is
// not a JWT (opaque tokens are valid, they just carry nothing readable).
func (s *Session) Claims() (Claims, bool) {
	return ParseClaims(s.AccessToken())
}

// ParseClaims reads sub and exp from a JWT without verifying it.
func ParseClaims(token string) (Claims, bool) {
	if token == "" {
		return Claims{}, false
	}
	registered := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, registered); err != nil {
		return Claims{}, false
	}

	var c Claims
	c.Subject = registered.Subject
	if registered.ExpiresAt != nil {
		c.ExpiresAt = registered.ExpiresAt.Time
	}
	return c, true
}
