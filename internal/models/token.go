package models

import "time"

// SessionClaims is the decoded payload of an access token. It is never
// persisted; the signed token string is its only durable representation.
// Roles are whatever the token was minted with: changes made to a user's
// role set after issuance are not visible until the token is refreshed
// or expires.
type SessionClaims struct {
	UserID    int32     `json:"user_id"`
	Username  string    `json:"username"`
	Roles     []string  `json:"roles"`
	IssuedAt  time.Time `json:"iat"`
	ExpiresAt time.Time `json:"exp"`
}

// HasRole reports whether the claims carry the named role.
func (c *SessionClaims) HasRole(name string) bool {
	for _, r := range c.Roles {
		if r == name {
			return true
		}
	}
	return false
}

// TokenPair is what a successful login returns: a signed access token with
// its expiry, plus an opaque refresh token held server-side in the token
// store.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	RefreshToken string    `json:"refresh_token"`
}
