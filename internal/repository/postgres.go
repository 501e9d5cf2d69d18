package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abdihakim148/beekeeper/internal/domain"
)

// Compile-time interface assertions.
var (
	_ UserRepository    = (*PostgresUserRepo)(nil)
	_ ClientRepository  = (*PostgresClientRepo)(nil)
	_ CodeRepository    = (*PostgresCodeRepo)(nil)
	_ TokenRepository   = (*PostgresTokenRepo)(nil)
	_ SessionRepository = (*PostgresSessionRepo)(nil)
	_ KeyRepository     = (*PostgresKeyRepo)(nil)
)

const uniqueViolation = "23505"

// mapPgError converts driver failures into repository sentinels.
func mapPgError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// PostgresUserRepo implements UserRepository.
type PostgresUserRepo struct {
	db *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{db: pool}
}

const insertUserSQL = `INSERT INTO users (id, email, name, credential_digest, credential_algorithm, credential_rotated_at, scopes, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, email, name, credential_digest, credential_algorithm, credential_rotated_at, scopes, status, created_at, updated_at`

const selectUserSQL = `SELECT id, email, name, credential_digest, credential_algorithm, credential_rotated_at, scopes, status, created_at, updated_at
FROM users`

func (r *PostgresUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	row := r.db.QueryRow(ctx, insertUserSQL,
		user.ID,
		user.Email,
		user.Name,
		user.Credential.Digest,
		user.Credential.Algorithm,
		user.Credential.RotatedAt,
		user.Scopes,
		string(user.Status),
	)
	created, err := scanUser(row)
	if err != nil {
		return domain.User{}, mapPgError("create user", err)
	}
	return created, nil
}

func (r *PostgresUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.db.QueryRow(ctx, selectUserSQL+" WHERE email = $1 LIMIT 1", email)
	user, err := scanUser(row)
	if err != nil {
		return domain.User{}, mapPgError("get user by email", err)
	}
	return user, nil
}

func (r *PostgresUserRepo) GetByID(ctx context.Context, id int64) (domain.User, error) {
	row := r.db.QueryRow(ctx, selectUserSQL+" WHERE id = $1 LIMIT 1", id)
	user, err := scanUser(row)
	if err != nil {
		return domain.User{}, mapPgError("get user", err)
	}
	return user, nil
}

func (r *PostgresUserRepo) UpdateCredential(ctx context.Context, userID int64, cred domain.Credential) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET credential_digest = $2, credential_algorithm = $3, credential_rotated_at = $4, updated_at = now() WHERE id = $1`,
		userID, cred.Digest, cred.Algorithm, cred.RotatedAt,
	)
	if err != nil {
		return mapPgError("update credential", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update credential: %w", ErrNotFound)
	}
	return nil
}

func (r *PostgresUserRepo) UpdateStatus(ctx context.Context, userID int64, status domain.UserStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET status = $2, updated_at = now() WHERE id = $1`,
		userID, string(status),
	)
	if err != nil {
		return mapPgError("update status", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update status: %w", ErrNotFound)
	}
	return nil
}

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		user   domain.User
		status string
	)
	if err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.Credential.Digest,
		&user.Credential.Algorithm,
		&user.Credential.RotatedAt,
		&user.Scopes,
		&status,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return domain.User{}, err
	}
	user.Status = domain.UserStatus(status)
	return user, nil
}

// PostgresClientRepo implements ClientRepository.
type PostgresClientRepo struct {
	db *pgxpool.Pool
}

func NewPostgresClientRepo(pool *pgxpool.Pool) *PostgresClientRepo {
	return &PostgresClientRepo{db: pool}
}

const selectClientSQL = `SELECT id, client_id, secret_digest, name, redirect_uris, grant_types, scopes, confidential, created_at, updated_at
FROM oauth_clients`

func (r *PostgresClientRepo) Create(ctx context.Context, client domain.Client) (domain.Client, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO oauth_clients (id, client_id, secret_digest, name, redirect_uris, grant_types, scopes, confidential)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, client_id, secret_digest, name, redirect_uris, grant_types, scopes, confidential, created_at, updated_at`,
		client.ID,
		client.ClientID,
		client.SecretDigest,
		client.Name,
		client.RedirectURIs,
		client.GrantTypes,
		client.Scopes,
		client.Confidential,
	)
	created, err := scanClient(row)
	if err != nil {
		return domain.Client{}, mapPgError("create client", err)
	}
	return created, nil
}

func (r *PostgresClientRepo) GetByClientID(ctx context.Context, clientID string) (domain.Client, error) {
	row := r.db.QueryRow(ctx, selectClientSQL+" WHERE client_id = $1 LIMIT 1", clientID)
	client, err := scanClient(row)
	if err != nil {
		return domain.Client{}, mapPgError("get client", err)
	}
	return client, nil
}

func (r *PostgresClientRepo) Update(ctx context.Context, client domain.Client) (domain.Client, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE oauth_clients
SET secret_digest = $2, name = $3, redirect_uris = $4, grant_types = $5, scopes = $6, confidential = $7, updated_at = now()
WHERE client_id = $1
RETURNING id, client_id, secret_digest, name, redirect_uris, grant_types, scopes, confidential, created_at, updated_at`,
		client.ClientID,
		client.SecretDigest,
		client.Name,
		client.RedirectURIs,
		client.GrantTypes,
		client.Scopes,
		client.Confidential,
	)
	updated, err := scanClient(row)
	if err != nil {
		return domain.Client{}, mapPgError("update client", err)
	}
	return updated, nil
}

func scanClient(row pgx.Row) (domain.Client, error) {
	var client domain.Client
	if err := row.Scan(
		&client.ID,
		&client.ClientID,
		&client.SecretDigest,
		&client.Name,
		&client.RedirectURIs,
		&client.GrantTypes,
		&client.Scopes,
		&client.Confidential,
		&client.CreatedAt,
		&client.UpdatedAt,
	); err != nil {
		return domain.Client{}, err
	}
	return client, nil
}

// PostgresCodeRepo implements CodeRepository.
type PostgresCodeRepo struct {
	db *pgxpool.Pool
}

func NewPostgresCodeRepo(pool *pgxpool.Pool) *PostgresCodeRepo {
	return &PostgresCodeRepo{db: pool}
}

func (r *PostgresCodeRepo) CreateCode(ctx context.Context, code domain.AuthorizationCode) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO oauth_codes (id, code, client_id, user_id, redirect_uri, scopes, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		code.ID,
		code.Code,
		code.ClientID,
		code.UserID,
		code.RedirectURI,
		code.Scopes,
		code.ExpiresAt,
	)
	if err != nil {
		return mapPgError("insert code", err)
	}
	return nil
}

const consumeCodeSQL = `UPDATE oauth_codes SET consumed_at = now()
WHERE code = $1 AND consumed_at IS NULL
RETURNING id, code, client_id, user_id, redirect_uri, scopes, session_id, expires_at, consumed_at, created_at`

const selectCodeSQL = `SELECT id, code, client_id, user_id, redirect_uri, scopes, session_id, expires_at, consumed_at, created_at
FROM oauth_codes WHERE code = $1 LIMIT 1`

// ConsumeCode tombstones through a conditional UPDATE so that concurrent
// callers race on the database row, not on a read-then-write pair.
func (r *PostgresCodeRepo) ConsumeCode(ctx context.Context, code string) (domain.AuthorizationCode, error) {
	stored, err := scanCode(r.db.QueryRow(ctx, consumeCodeSQL, code))
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.AuthorizationCode{}, mapPgError("consume code", err)
	}

	// Zero rows updated: either the code never existed or it lost the race.
	stored, err = scanCode(r.db.QueryRow(ctx, selectCodeSQL, code))
	if err != nil {
		return domain.AuthorizationCode{}, mapPgError("consume code", err)
	}
	return stored, fmt.Errorf("consume code: %w", ErrCodeConsumed)
}

func (r *PostgresCodeRepo) BindCodeSession(ctx context.Context, code string, sessionID int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE oauth_codes SET session_id = $2 WHERE code = $1`, code, sessionID)
	if err != nil {
		return mapPgError("bind code session", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bind code session: %w", ErrNotFound)
	}
	return nil
}

func scanCode(row pgx.Row) (domain.AuthorizationCode, error) {
	var (
		code      domain.AuthorizationCode
		sessionID *int64
		consumed  *time.Time
	)
	if err := row.Scan(
		&code.ID,
		&code.Code,
		&code.ClientID,
		&code.UserID,
		&code.RedirectURI,
		&code.Scopes,
		&sessionID,
		&code.ExpiresAt,
		&consumed,
		&code.CreatedAt,
	); err != nil {
		return domain.AuthorizationCode{}, err
	}
	if sessionID != nil {
		code.SessionID = *sessionID
	}
	code.ConsumedAt = consumed
	return code, nil
}

// PostgresTokenRepo implements TokenRepository.
type PostgresTokenRepo struct {
	db *pgxpool.Pool
}

func NewPostgresTokenRepo(pool *pgxpool.Pool) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: pool}
}

const insertTokenSQL = `INSERT INTO oauth_tokens (id, session_id, user_id, client_id, kind, value, scopes, parent_id, issued_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id, session_id, user_id, client_id, kind, value, scopes, parent_id, issued_at, expires_at, revoked`

const selectTokenSQL = `SELECT id, session_id, user_id, client_id, kind, value, scopes, parent_id, issued_at, expires_at, revoked
FROM oauth_tokens`

func (r *PostgresTokenRepo) CreateToken(ctx context.Context, token domain.Token) (domain.Token, error) {
	created, err := scanToken(r.db.QueryRow(ctx, insertTokenSQL, tokenArgs(token)...))
	if err != nil {
		return domain.Token{}, mapPgError("insert token", err)
	}
	return created, nil
}

func (r *PostgresTokenRepo) GetByID(ctx context.Context, id int64) (domain.Token, error) {
	token, err := scanToken(r.db.QueryRow(ctx, selectTokenSQL+" WHERE id = $1 LIMIT 1", id))
	if err != nil {
		return domain.Token{}, mapPgError("get token", err)
	}
	return token, nil
}

func (r *PostgresTokenRepo) GetByValue(ctx context.Context, value string) (domain.Token, error) {
	token, err := scanToken(r.db.QueryRow(ctx, selectTokenSQL+" WHERE value = $1 LIMIT 1", value))
	if err != nil {
		return domain.Token{}, mapPgError("get token by value", err)
	}
	return token, nil
}

// RotateRefreshToken revokes the old record and inserts its successor inside
// one transaction. The conditional UPDATE doubles as the compare-and-swap:
// zero affected rows means a concurrent caller rotated or revoked first.
func (r *PostgresTokenRepo) RotateRefreshToken(ctx context.Context, oldID int64, next domain.Token) (domain.Token, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.Token{}, mapPgError("rotate token", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE oauth_tokens SET revoked = true WHERE id = $1 AND revoked = false`, oldID)
	if err != nil {
		return domain.Token{}, mapPgError("rotate token", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM oauth_tokens WHERE id = $1)`, oldID).Scan(&exists); err != nil {
			return domain.Token{}, mapPgError("rotate token", err)
		}
		if !exists {
			return domain.Token{}, fmt.Errorf("rotate token: %w", ErrNotFound)
		}
		return domain.Token{}, fmt.Errorf("rotate token: %w", ErrTokenRotated)
	}

	next.ParentID = oldID
	created, err := scanToken(tx.QueryRow(ctx, insertTokenSQL, tokenArgs(next)...))
	if err != nil {
		return domain.Token{}, mapPgError("rotate token", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Token{}, mapPgError("rotate token", err)
	}
	return created, nil
}

func (r *PostgresTokenRepo) RevokeToken(ctx context.Context, id int64) error {
	if _, err := r.db.Exec(ctx, `UPDATE oauth_tokens SET revoked = true WHERE id = $1`, id); err != nil {
		return mapPgError("revoke token", err)
	}
	return nil
}

func (r *PostgresTokenRepo) RevokeSessionTokens(ctx context.Context, sessionID int64) error {
	if _, err := r.db.Exec(ctx, `UPDATE oauth_tokens SET revoked = true WHERE session_id = $1`, sessionID); err != nil {
		return mapPgError("revoke session tokens", err)
	}
	return nil
}

func tokenArgs(token domain.Token) []any {
	return []any{
		token.ID,
		token.SessionID,
		token.UserID,
		token.ClientID,
		string(token.Kind),
		token.Value,
		token.Scopes,
		token.ParentID,
		token.IssuedAt,
		token.ExpiresAt,
	}
}

func scanToken(row pgx.Row) (domain.Token, error) {
	var (
		token domain.Token
		kind  string
	)
	if err := row.Scan(
		&token.ID,
		&token.SessionID,
		&token.UserID,
		&token.ClientID,
		&kind,
		&token.Value,
		&token.Scopes,
		&token.ParentID,
		&token.IssuedAt,
		&token.ExpiresAt,
		&token.Revoked,
	); err != nil {
		return domain.Token{}, err
	}
	token.Kind = domain.TokenKind(kind)
	return token, nil
}

// PostgresSessionRepo implements SessionRepository.
type PostgresSessionRepo struct {
	db *pgxpool.Pool
}

func NewPostgresSessionRepo(pool *pgxpool.Pool) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: pool}
}

func (r *PostgresSessionRepo) CreateSession(ctx context.Context, session domain.Session) (domain.Session, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO sessions (id, user_id, client_id, scopes)
VALUES ($1, $2, $3, $4)
RETURNING id, user_id, client_id, scopes, revoked, created_at`,
		session.ID,
		session.UserID,
		session.ClientID,
		session.Scopes,
	)
	created, err := scanSession(row)
	if err != nil {
		return domain.Session{}, mapPgError("create session", err)
	}
	return created, nil
}

func (r *PostgresSessionRepo) GetSession(ctx context.Context, id int64) (domain.Session, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, user_id, client_id, scopes, revoked, created_at FROM sessions WHERE id = $1 LIMIT 1`, id)
	session, err := scanSession(row)
	if err != nil {
		return domain.Session{}, mapPgError("get session", err)
	}
	return session, nil
}

func (r *PostgresSessionRepo) RevokeSession(ctx context.Context, id int64) error {
	if _, err := r.db.Exec(ctx, `UPDATE sessions SET revoked = true WHERE id = $1`, id); err != nil {
		return mapPgError("revoke session", err)
	}
	return nil
}

func scanSession(row pgx.Row) (domain.Session, error) {
	var session domain.Session
	if err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.ClientID,
		&session.Scopes,
		&session.Revoked,
		&session.CreatedAt,
	); err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

// PostgresKeyRepo implements KeyRepository.
type PostgresKeyRepo struct {
	db *pgxpool.Pool
}

func NewPostgresKeyRepo(pool *pgxpool.Pool) *PostgresKeyRepo {
	return &PostgresKeyRepo{db: pool}
}

func (r *PostgresKeyRepo) GetActiveKey(ctx context.Context) (domain.SigningKey, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, kid, secret, algorithm, is_active, created_at, rotated_at
FROM signing_keys WHERE is_active = true ORDER BY created_at DESC LIMIT 1`)
	var key domain.SigningKey
	if err := row.Scan(&key.ID, &key.KID, &key.Secret, &key.Algorithm, &key.IsActive, &key.CreatedAt, &key.RotatedAt); err != nil {
		return domain.SigningKey{}, mapPgError("get active key", err)
	}
	return key, nil
}

func (r *PostgresKeyRepo) CreateKey(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO signing_keys (kid, secret, algorithm, is_active)
VALUES ($1, $2, $3, true)
RETURNING id, kid, secret, algorithm, is_active, created_at, rotated_at`,
		key.KID, key.Secret, key.Algorithm)
	var created domain.SigningKey
	if err := row.Scan(&created.ID, &created.KID, &created.Secret, &created.Algorithm, &created.IsActive, &created.CreatedAt, &created.RotatedAt); err != nil {
		return domain.SigningKey{}, mapPgError("insert key", err)
	}
	return created, nil
}
