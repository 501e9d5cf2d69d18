package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/abdihakim148/beekeeper/internal/domain"
)

// Compile-time interface assertions.
var (
	_ UserRepository    = (*MemoryUserRepo)(nil)
	_ ClientRepository  = (*MemoryClientRepo)(nil)
	_ CodeRepository    = (*MemoryCodeRepo)(nil)
	_ TokenRepository   = (*MemoryTokenRepo)(nil)
	_ SessionRepository = (*MemorySessionRepo)(nil)
	_ KeyRepository     = (*MemoryKeyRepo)(nil)
)

// Memory is the in-memory store adapter. A single mutex guards every table,
// which is what makes ConsumeCode and RotateRefreshToken atomic here.
type Memory struct {
	mu       sync.Mutex
	nextID   int64
	users    map[int64]domain.User
	emails   map[string]int64
	clients  map[string]domain.Client
	codes    map[string]domain.AuthorizationCode
	tokens   map[int64]domain.Token
	values   map[string]int64
	sessions map[int64]domain.Session
	key      domain.SigningKey
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		nextID:   1,
		users:    make(map[int64]domain.User),
		emails:   make(map[string]int64),
		clients:  make(map[string]domain.Client),
		codes:    make(map[string]domain.AuthorizationCode),
		tokens:   make(map[int64]domain.Token),
		values:   make(map[string]int64),
		sessions: make(map[int64]domain.Session),
	}
}

// Users exposes the user table.
func (m *Memory) Users() *MemoryUserRepo { return &MemoryUserRepo{store: m} }

// Clients exposes the client table.
func (m *Memory) Clients() *MemoryClientRepo { return &MemoryClientRepo{store: m} }

// Codes exposes the authorization-code table.
func (m *Memory) Codes() *MemoryCodeRepo { return &MemoryCodeRepo{store: m} }

// Tokens exposes the token table.
func (m *Memory) Tokens() *MemoryTokenRepo { return &MemoryTokenRepo{store: m} }

// Sessions exposes the session table.
func (m *Memory) Sessions() *MemorySessionRepo { return &MemorySessionRepo{store: m} }

// Keys exposes the signing-key table.
func (m *Memory) Keys() *MemoryKeyRepo { return &MemoryKeyRepo{store: m} }

func (m *Memory) allocID() int64 {
	id := m.nextID
	m.nextID++
	return id
}

// MemoryUserRepo implements UserRepository.
type MemoryUserRepo struct {
	store *Memory
}

func (r *MemoryUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.emails[user.Email]; ok {
		return domain.User{}, fmt.Errorf("create user %q: %w", user.Email, ErrConflict)
	}
	if user.ID == 0 {
		user.ID = m.allocID()
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	m.users[user.ID] = user
	m.emails[user.Email] = user.ID
	return user, nil
}

func (r *MemoryUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.emails[email]
	if !ok {
		return domain.User{}, fmt.Errorf("get user by email: %w", ErrNotFound)
	}
	return m.users[id], nil
}

func (r *MemoryUserRepo) GetByID(ctx context.Context, id int64) (domain.User, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[id]
	if !ok {
		return domain.User{}, fmt.Errorf("get user: %w", ErrNotFound)
	}
	return user, nil
}

func (r *MemoryUserRepo) UpdateCredential(ctx context.Context, userID int64, cred domain.Credential) error {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("update credential: %w", ErrNotFound)
	}
	user.Credential = cred
	user.UpdatedAt = time.Now().UTC()
	m.users[userID] = user
	return nil
}

func (r *MemoryUserRepo) UpdateStatus(ctx context.Context, userID int64, status domain.UserStatus) error {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("update status: %w", ErrNotFound)
	}
	user.Status = status
	user.UpdatedAt = time.Now().UTC()
	m.users[userID] = user
	return nil
}

// MemoryClientRepo implements ClientRepository.
type MemoryClientRepo struct {
	store *Memory
}

func (r *MemoryClientRepo) Create(ctx context.Context, client domain.Client) (domain.Client, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[client.ClientID]; ok {
		return domain.Client{}, fmt.Errorf("create client %q: %w", client.ClientID, ErrConflict)
	}
	if client.ID == 0 {
		client.ID = m.allocID()
	}
	now := time.Now().UTC()
	client.CreatedAt = now
	client.UpdatedAt = now
	m.clients[client.ClientID] = client
	return client, nil
}

func (r *MemoryClientRepo) GetByClientID(ctx context.Context, clientID string) (domain.Client, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	client, ok := m.clients[clientID]
	if !ok {
		return domain.Client{}, fmt.Errorf("get client: %w", ErrNotFound)
	}
	return client, nil
}

func (r *MemoryClientRepo) Update(ctx context.Context, client domain.Client) (domain.Client, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.clients[client.ClientID]
	if !ok {
		return domain.Client{}, fmt.Errorf("update client: %w", ErrNotFound)
	}
	client.ID = stored.ID
	client.CreatedAt = stored.CreatedAt
	client.UpdatedAt = time.Now().UTC()
	m.clients[client.ClientID] = client
	return client, nil
}

// MemoryCodeRepo implements CodeRepository.
type MemoryCodeRepo struct {
	store *Memory
}

func (r *MemoryCodeRepo) CreateCode(ctx context.Context, code domain.AuthorizationCode) error {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.codes[code.Code]; ok {
		return fmt.Errorf("create code: %w", ErrConflict)
	}
	if code.ID == 0 {
		code.ID = m.allocID()
	}
	code.CreatedAt = time.Now().UTC()
	m.codes[code.Code] = code
	return nil
}

func (r *MemoryCodeRepo) ConsumeCode(ctx context.Context, code string) (domain.AuthorizationCode, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.codes[code]
	if !ok {
		return domain.AuthorizationCode{}, fmt.Errorf("consume code: %w", ErrNotFound)
	}
	if stored.Consumed() {
		return stored, fmt.Errorf("consume code: %w", ErrCodeConsumed)
	}
	now := time.Now().UTC()
	stored.ConsumedAt = &now
	m.codes[code] = stored
	return stored, nil
}

func (r *MemoryCodeRepo) BindCodeSession(ctx context.Context, code string, sessionID int64) error {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.codes[code]
	if !ok {
		return fmt.Errorf("bind code session: %w", ErrNotFound)
	}
	stored.SessionID = sessionID
	m.codes[code] = stored
	return nil
}

// MemoryTokenRepo implements TokenRepository.
type MemoryTokenRepo struct {
	store *Memory
}

func (r *MemoryTokenRepo) CreateToken(ctx context.Context, token domain.Token) (domain.Token, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertTokenLocked(token), nil
}

func (m *Memory) insertTokenLocked(token domain.Token) domain.Token {
	if token.ID == 0 {
		token.ID = m.allocID()
	}
	if token.IssuedAt.IsZero() {
		token.IssuedAt = time.Now().UTC()
	}
	m.tokens[token.ID] = token
	if token.Value != "" {
		m.values[token.Value] = token.ID
	}
	return token
}

func (r *MemoryTokenRepo) GetByID(ctx context.Context, id int64) (domain.Token, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.tokens[id]
	if !ok {
		return domain.Token{}, fmt.Errorf("get token: %w", ErrNotFound)
	}
	return token, nil
}

func (r *MemoryTokenRepo) GetByValue(ctx context.Context, value string) (domain.Token, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.values[value]
	if !ok {
		return domain.Token{}, fmt.Errorf("get token by value: %w", ErrNotFound)
	}
	return m.tokens[id], nil
}

func (r *MemoryTokenRepo) RotateRefreshToken(ctx context.Context, oldID int64, next domain.Token) (domain.Token, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.tokens[oldID]
	if !ok {
		return domain.Token{}, fmt.Errorf("rotate token: %w", ErrNotFound)
	}
	if old.Revoked {
		return domain.Token{}, fmt.Errorf("rotate token: %w", ErrTokenRotated)
	}
	old.Revoked = true
	m.tokens[oldID] = old
	next.ParentID = oldID
	return m.insertTokenLocked(next), nil
}

func (r *MemoryTokenRepo) RevokeToken(ctx context.Context, id int64) error {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.tokens[id]
	if !ok {
		return nil
	}
	token.Revoked = true
	m.tokens[id] = token
	return nil
}

func (r *MemoryTokenRepo) RevokeSessionTokens(ctx context.Context, sessionID int64) error {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, token := range m.tokens {
		if token.SessionID == sessionID && !token.Revoked {
			token.Revoked = true
			m.tokens[id] = token
		}
	}
	return nil
}

// MemorySessionRepo implements SessionRepository.
type MemorySessionRepo struct {
	store *Memory
}

func (r *MemorySessionRepo) CreateSession(ctx context.Context, session domain.Session) (domain.Session, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if session.ID == 0 {
		session.ID = m.allocID()
	}
	session.CreatedAt = time.Now().UTC()
	m.sessions[session.ID] = session
	return session, nil
}

func (r *MemorySessionRepo) GetSession(ctx context.Context, id int64) (domain.Session, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return domain.Session{}, fmt.Errorf("get session: %w", ErrNotFound)
	}
	return session, nil
}

func (r *MemorySessionRepo) RevokeSession(ctx context.Context, id int64) error {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil
	}
	session.Revoked = true
	m.sessions[id] = session
	return nil
}

// MemoryKeyRepo implements KeyRepository.
type MemoryKeyRepo struct {
	store *Memory
}

func (r *MemoryKeyRepo) GetActiveKey(ctx context.Context) (domain.SigningKey, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.key.ID == 0 {
		return domain.SigningKey{}, fmt.Errorf("get active key: %w", ErrNotFound)
	}
	return m.key, nil
}

func (r *MemoryKeyRepo) CreateKey(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error) {
	m := r.store
	m.mu.Lock()
	defer m.mu.Unlock()
	if key.ID == 0 {
		key.ID = m.allocID()
	}
	key.IsActive = true
	key.CreatedAt = time.Now().UTC()
	m.key = key
	return key, nil
}
