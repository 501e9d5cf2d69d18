package domain

import "time"

// UserStatus is the lifecycle flag of a registered user.
type UserStatus string

const (
	UserActive   UserStatus = "ACTIVE"
	UserLocked   UserStatus = "LOCKED"
	UserDisabled UserStatus = "DISABLED"
)

// User represents an end user that can authenticate.
type User struct {
	ID         int64
	Email      string
	Name       string
	Credential Credential
	Scopes     []string
	Status     UserStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Active reports whether the user may authenticate at all.
func (u User) Active() bool {
	return u.Status == UserActive
}

// Credential holds the opaque salted digest owned by a user. The cleartext
// secret never appears on this type.
type Credential struct {
	Digest    string
	Algorithm string
	RotatedAt time.Time
}
