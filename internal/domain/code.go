package domain

import "time"

// AuthorizationCode is a single-use grant artifact minted at the authorize
// step and consumed exactly once at token exchange.
type AuthorizationCode struct {
	ID          int64
	Code        string
	ClientID    string
	UserID      int64
	RedirectURI string
	Scopes      []string
	SessionID   int64
	ExpiresAt   time.Time
	ConsumedAt  *time.Time
	CreatedAt   time.Time
}

// Expired reports whether the code passed its expiry at the given instant.
func (c AuthorizationCode) Expired(at time.Time) bool {
	return at.After(c.ExpiresAt)
}

// Consumed reports whether the code was already redeemed.
func (c AuthorizationCode) Consumed() bool {
	return c.ConsumedAt != nil
}
