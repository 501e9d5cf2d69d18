package domain

import "time"

// TokenKind is the closed set of token variants the core issues.
type TokenKind string

const (
	AccessToken  TokenKind = "access"
	RefreshToken TokenKind = "refresh"
	IDToken      TokenKind = "id"
)

// TokenPolicy carries the kind-specific issuance rules. Self-verifying kinds
// are checked from signature and embedded expiry alone; store-backed kinds
// require a store lookup on every verification.
type TokenPolicy struct {
	TTL         time.Duration
	StoreBacked bool
}

// Token is the persisted record of a store-backed token. Access and ID
// tokens are self-verifying and only pass through here when auditing.
type Token struct {
	ID        int64
	SessionID int64
	UserID    int64
	ClientID  string
	Kind      TokenKind
	Value     string
	Scopes    []string
	ParentID  int64
	IssuedAt  time.Time
	ExpiresAt time.Time
	Revoked   bool
}

// Expired reports whether the token passed its expiry at the given instant.
func (t Token) Expired(at time.Time) bool {
	return !t.ExpiresAt.IsZero() && at.After(t.ExpiresAt)
}

// Session binds a user, a client and the refresh-token chain descending from
// one grant. Revoking a session revokes every descendant token.
type Session struct {
	ID        int64
	UserID    int64
	ClientID  string
	Scopes    []string
	Revoked   bool
	CreatedAt time.Time
}
