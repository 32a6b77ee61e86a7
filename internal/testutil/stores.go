// stores.go
//
// Shared mock implementations of auth.Store, auth.RateLimiter and session.Store.
// Imported by test files across packages to avoid duplicate mock definitions.
package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MGallo-Code/mangatracker/internal/store"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

type tokenKey struct {
	userID int64
	lookup string
}

// MockStore implements auth.Store for tests.
//
// Always stateful...Users and Tokens are maps, like a real store.
// Use *Err fields to inject errors for specific operations.
// Use NewMockStore + AddUser to seed users; or construct directly and set *Err fields for error-path tests.
type MockStore struct {
	// Error injection...zero value means no error
	CreateUserErr           error
	GetUserByCredentialsErr error
	GetUserByIDErr          error
	UpdateUserThemeErr      error
	CreateAuthTokenErr      error
	GetUserByTokenErr       error
	GetLookupOwnerErr       error
	RotateAuthTokenErr      error
	DeleteAuthTokenErr      error
	DeleteUserAuthTokensErr error
	CheckHealthErr          error

	// TokenGate, when non-nil, blocks GetUserByToken until it is closed.
	// TokenEntered, when non-nil, receives once per GetUserByToken call before blocking.
	TokenGate    chan struct{}
	TokenEntered chan struct{}

	Users  map[int64]*store.User
	Tokens map[tokenKey]*store.AuthToken

	pwhashes map[int64]string
	calls    map[string]int
	nextID   int64
	mu       sync.Mutex
}

// NewMockStore returns an empty MockStore ready for use.
func NewMockStore() *MockStore {
	return &MockStore{
		Users:    make(map[int64]*store.User),
		Tokens:   make(map[tokenKey]*store.AuthToken),
		pwhashes: make(map[int64]string),
		calls:    make(map[string]int),
	}
}

// AddUser seeds u with a bcrypt hash of password. u.UUID is generated if zero.
func (m *MockStore) AddUser(u *store.User, password string) *store.User {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(err)
	}
	if u.UUID.IsNil() {
		u.UUID = uuid.Must(uuid.NewV4())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.Users[u.ID] = u
	m.pwhashes[u.ID] = string(hash)
	if u.ID > m.nextID {
		m.nextID = u.ID
	}
	return u
}

// AddToken seeds a token row for userID.
func (m *MockStore) AddToken(userID int64, lookup, hashedToken string, expiresAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.init()
	m.Tokens[tokenKey{userID, lookup}] = &store.AuthToken{
		UserID:      userID,
		HashedToken: hashedToken,
		ExpiresAt:   expiresAt,
		Lookup:      lookup,
	}
}

// Token returns a copy of the (userID, lookup) token row, if present.
func (m *MockStore) Token(userID int64, lookup string) (store.AuthToken, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Tokens[tokenKey{userID, lookup}]
	if !ok {
		return store.AuthToken{}, false
	}
	return *t, true
}

// TokenCount returns the number of token rows owned by userID.
func (m *MockStore) TokenCount(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.Tokens {
		if k.userID == userID {
			n++
		}
	}
	return n
}

// Calls returns how many times the named method ran.
func (m *MockStore) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// TotalCalls returns the number of store calls of any kind.
func (m *MockStore) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

// init lazily allocates maps for zero-value MockStores. Caller holds mu.
func (m *MockStore) init() {
	if m.Users == nil {
		m.Users = make(map[int64]*store.User)
	}
	if m.Tokens == nil {
		m.Tokens = make(map[tokenKey]*store.AuthToken)
	}
	if m.pwhashes == nil {
		m.pwhashes = make(map[int64]string)
	}
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
}

// record counts a call. Caller holds mu.
func (m *MockStore) record(method string) {
	m.init()
	m.calls[method]++
}

func (m *MockStore) CreateUser(_ context.Context, username, email, pwhash string, userUUID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CreateUser")
	if m.CreateUserErr != nil {
		return 0, m.CreateUserErr
	}
	m.nextID++
	id := m.nextID
	m.Users[id] = &store.User{ID: id, Username: username, Email: email, UUID: userUUID, CreatedAt: time.Now()}
	m.pwhashes[id] = pwhash
	return id, nil
}

// GetUserByCredentials mirrors the crypt() comparison with bcrypt.
func (m *MockStore) GetUserByCredentials(_ context.Context, email, password string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetUserByCredentials")
	if m.GetUserByCredentialsErr != nil {
		return nil, m.GetUserByCredentialsErr
	}
	for id, u := range m.Users {
		if u.Email != email {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(m.pwhashes[id]), []byte(password)) != nil {
			return nil, pgx.ErrNoRows
		}
		cp := *u
		return &cp, nil
	}
	return nil, pgx.ErrNoRows
}

func (m *MockStore) GetUserByID(_ context.Context, id int64) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetUserByID")
	if m.GetUserByIDErr != nil {
		return nil, m.GetUserByIDErr
	}
	u, ok := m.Users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (m *MockStore) UpdateUserTheme(_ context.Context, id int64, theme int16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("UpdateUserTheme")
	if m.UpdateUserThemeErr != nil {
		return m.UpdateUserThemeErr
	}
	u, ok := m.Users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	u.Theme = theme
	return nil
}

func (m *MockStore) CreateAuthToken(_ context.Context, userID int64, hashedToken, lookup string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CreateAuthToken")
	if m.CreateAuthTokenErr != nil {
		return m.CreateAuthTokenErr
	}
	k := tokenKey{userID, lookup}
	if _, dup := m.Tokens[k]; dup {
		return errors.New("duplicate (user_id, lookup)")
	}
	m.Tokens[k] = &store.AuthToken{UserID: userID, HashedToken: hashedToken, ExpiresAt: expiresAt, Lookup: lookup}
	return nil
}

func (m *MockStore) GetUserByToken(_ context.Context, lookup, hashedToken, userUUID string) (*store.User, error) {
	m.mu.Lock()
	m.record("GetUserByToken")
	gate, entered := m.TokenGate, m.TokenEntered
	m.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetUserByTokenErr != nil {
		return nil, m.GetUserByTokenErr
	}
	now := time.Now()
	for k, t := range m.Tokens {
		if k.lookup != lookup || t.HashedToken != hashedToken || !t.ExpiresAt.After(now) {
			continue
		}
		u, ok := m.Users[k.userID]
		if !ok || u.UUID.String() != userUUID {
			continue
		}
		cp := *u
		return &cp, nil
	}
	return nil, pgx.ErrNoRows
}

func (m *MockStore) GetLookupOwner(_ context.Context, userUUID, lookup string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("GetLookupOwner")
	if m.GetLookupOwnerErr != nil {
		return 0, m.GetLookupOwnerErr
	}
	for k := range m.Tokens {
		if k.lookup != lookup {
			continue
		}
		if u, ok := m.Users[k.userID]; ok && u.UUID.String() == userUUID {
			return k.userID, nil
		}
	}
	return 0, pgx.ErrNoRows
}

func (m *MockStore) RotateAuthToken(_ context.Context, userID int64, lookup, hashedToken string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("RotateAuthToken")
	if m.RotateAuthTokenErr != nil {
		return time.Time{}, m.RotateAuthTokenErr
	}
	t, ok := m.Tokens[tokenKey{userID, lookup}]
	if !ok {
		return time.Time{}, pgx.ErrNoRows
	}
	t.HashedToken = hashedToken
	return t.ExpiresAt, nil
}

func (m *MockStore) DeleteAuthToken(_ context.Context, userID int64, lookup, hashedToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("DeleteAuthToken")
	if m.DeleteAuthTokenErr != nil {
		return m.DeleteAuthTokenErr
	}
	k := tokenKey{userID, lookup}
	if t, ok := m.Tokens[k]; ok && t.HashedToken == hashedToken {
		delete(m.Tokens, k)
	}
	return nil
}

func (m *MockStore) DeleteUserAuthTokens(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("DeleteUserAuthTokens")
	if m.DeleteUserAuthTokensErr != nil {
		return m.DeleteUserAuthTokensErr
	}
	for k := range m.Tokens {
		if k.userID == userID {
			delete(m.Tokens, k)
		}
	}
	return nil
}

func (m *MockStore) CheckHealth(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CheckHealthErr
}

// MockSessionStore implements session.Store and auth.HealthChecker for tests.
// Always stateful...Sessions is a map, like Redis.
type MockSessionStore struct {
	// Error injection...zero value means no error
	GetSessionErr        error
	SetSessionErr        error
	DeleteSessionErr     error
	DeleteAllSessionsErr error
	CheckHealthErr       error

	Sessions map[string]store.CachedSession

	mu sync.Mutex
}

// NewMockSessionStore returns an empty MockSessionStore ready for use.
func NewMockSessionStore() *MockSessionStore {
	return &MockSessionStore{Sessions: make(map[string]store.CachedSession)}
}

// Get returns the stored session id, if present.
func (m *MockSessionStore) Get(id string) (store.CachedSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.Sessions[id]
	return s, ok
}

// Put seeds a stored session.
func (m *MockSessionStore) Put(id string, data store.CachedSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Sessions == nil {
		m.Sessions = make(map[string]store.CachedSession)
	}
	m.Sessions[id] = data
}

// CountForUser returns the number of stored sessions carrying userID.
func (m *MockSessionStore) CountForUser(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.Sessions {
		if s.UserID == userID {
			n++
		}
	}
	return n
}

func (m *MockSessionStore) GetSession(_ context.Context, id string) (*store.CachedSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetSessionErr != nil {
		return nil, m.GetSessionErr
	}
	s, ok := m.Sessions[id]
	if !ok {
		return nil, store.ErrCacheMiss
	}
	return &s, nil
}

func (m *MockSessionStore) SetSession(_ context.Context, id string, data store.CachedSession, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetSessionErr != nil {
		return m.SetSessionErr
	}
	if m.Sessions == nil {
		m.Sessions = make(map[string]store.CachedSession)
	}
	m.Sessions[id] = data
	return nil
}

// UpdateSession honours SetSessionErr and returns store.ErrCacheMiss for unknown ids.
func (m *MockSessionStore) UpdateSession(_ context.Context, id string, data store.CachedSession, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetSessionErr != nil {
		return m.SetSessionErr
	}
	if _, ok := m.Sessions[id]; !ok {
		return store.ErrCacheMiss
	}
	m.Sessions[id] = data
	return nil
}

func (m *MockSessionStore) DeleteSession(_ context.Context, id string, _ int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteSessionErr != nil {
		return m.DeleteSessionErr
	}
	delete(m.Sessions, id)
	return nil
}

func (m *MockSessionStore) DeleteAllUserSessions(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteAllSessionsErr != nil {
		return m.DeleteAllSessionsErr
	}
	for id, s := range m.Sessions {
		if s.UserID == userID {
			delete(m.Sessions, id)
		}
	}
	return nil
}

func (m *MockSessionStore) CheckHealth(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CheckHealthErr
}

// MockRateLimiter implements auth.RateLimiter for tests.
// Err is returned from every Allow call; Keys records each key checked.
type MockRateLimiter struct {
	Err  error
	Keys []string

	mu sync.Mutex
}

func (m *MockRateLimiter) Allow(_ context.Context, key string, _ store.RateLimit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Keys = append(m.Keys, key)
	return m.Err
}

// Calls returns how many times Allow ran.
func (m *MockRateLimiter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Keys)
}
