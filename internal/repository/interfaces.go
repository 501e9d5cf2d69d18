package repository

import (
	"context"
	"errors"

	"github.com/abdihakim148/beekeeper/internal/domain"
)

// Sentinel errors every adapter maps its driver failures onto. The domain
// services branch on these and never see driver errors directly.
var (
	// ErrNotFound reports a missing record.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict reports a uniqueness violation.
	ErrConflict = errors.New("repository: conflict")
	// ErrCodeConsumed reports that an authorization code was tombstoned by an
	// earlier ConsumeCode call. The stored record is returned alongside it.
	ErrCodeConsumed = errors.New("repository: code already consumed")
	// ErrTokenRotated reports a failed check-and-rotate: the token was already
	// rotated or revoked by a concurrent caller.
	ErrTokenRotated = errors.New("repository: token already rotated")
)

// UserRepository exposes persistence for users and their credentials.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByID(ctx context.Context, id int64) (domain.User, error)
	UpdateCredential(ctx context.Context, userID int64, cred domain.Credential) error
	UpdateStatus(ctx context.Context, userID int64, status domain.UserStatus) error
}

// ClientRepository exposes OAuth client metadata.
type ClientRepository interface {
	Create(ctx context.Context, client domain.Client) (domain.Client, error)
	GetByClientID(ctx context.Context, clientID string) (domain.Client, error)
	Update(ctx context.Context, client domain.Client) (domain.Client, error)
}

// CodeRepository manages authorization codes. ConsumeCode is the atomic
// check-and-tombstone contract: under concurrent callers exactly one call
// returns the record with a nil error; the rest get ErrCodeConsumed.
type CodeRepository interface {
	CreateCode(ctx context.Context, code domain.AuthorizationCode) error
	ConsumeCode(ctx context.Context, code string) (domain.AuthorizationCode, error)
	BindCodeSession(ctx context.Context, code string, sessionID int64) error
}

// TokenRepository handles store-backed token persistence. RotateRefreshToken
// is the atomic check-and-rotate contract: it revokes the old record and
// inserts its successor as one indivisible operation, failing with
// ErrTokenRotated when a concurrent caller rotated first.
type TokenRepository interface {
	CreateToken(ctx context.Context, token domain.Token) (domain.Token, error)
	GetByID(ctx context.Context, id int64) (domain.Token, error)
	GetByValue(ctx context.Context, value string) (domain.Token, error)
	RotateRefreshToken(ctx context.Context, oldID int64, next domain.Token) (domain.Token, error)
	RevokeToken(ctx context.Context, id int64) error
	RevokeSessionTokens(ctx context.Context, sessionID int64) error
}

// SessionRepository binds grants to their refresh chains.
type SessionRepository interface {
	CreateSession(ctx context.Context, session domain.Session) (domain.Session, error)
	GetSession(ctx context.Context, id int64) (domain.Session, error)
	RevokeSession(ctx context.Context, id int64) error
}

// KeyRepository stores signing keys for the token signer port.
type KeyRepository interface {
	GetActiveKey(ctx context.Context) (domain.SigningKey, error)
	CreateKey(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error)
}
