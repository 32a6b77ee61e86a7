// Package store handles all database and cache interactions.
//
// postgres.go -- pgxpool connection setup and queries.
// Creates a connection pool at startup, shared across all handlers.
// All queries use parameterized statements (no string concatenation).
package store

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// userColumns is the column list scanned by scanUser, u-prefixed for joins.
const userColumns = "u.user_id, u.username, u.email, u.user_uuid, u.theme, u.admin, u.created_at"

// The store used by program to connect with Postgres db
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates and returns a verified connection pool
// to PostgreSQL wrapped in a store.
// Call once at startup from main.go...the returned store is safe for concurrent use.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	// Create a pool w/ database url, return if err
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	// Ping db to make sure connection works
	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool}, nil
}

// Close shuts down the connection pool and releases all resources.
// Supposed to call via defer in main.go after creating the store.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// CheckHealth pings Postgres through the pool.
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// rowScanner is satisfied by pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.UUID, &u.Theme, &u.Admin, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// --- Users ---

// CreateUser inserts a new user and returns the generated user_id.
// pwhash must be a bcrypt hash so Postgres crypt() can verify it at login.
// Returns raw pgx error, handler inspects it for unique violations (duplicate email, username).
func (s *PostgresStore) CreateUser(ctx context.Context, username, email, pwhash string, userUUID uuid.UUID) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		"INSERT INTO users (username, email, pwhash, user_uuid) VALUES ($1, $2, $3, $4) RETURNING user_id",
		username, email, pwhash, userUUID,
	).Scan(&id)
	return id, err
}

// GetUserByCredentials fetches the user whose email matches and whose stored hash
// accepts password under pgcrypto crypt(). Returns pgx.ErrNoRows for unknown email
// or wrong password alike.
func (s *PostgresStore) GetUserByCredentials(ctx context.Context, email, password string) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users u WHERE u.email = $1 AND u.pwhash = crypt($2, u.pwhash)",
		email, password))
}

// GetUserByID fetches a user by id. Returns pgx.ErrNoRows if not found.
func (s *PostgresStore) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		"SELECT "+userColumns+" FROM users u WHERE u.user_id = $1", id))
}

// UpdateUserTheme sets the theme preference (0..127, enforced by CHECK) for a user.
func (s *PostgresStore) UpdateUserTheme(ctx context.Context, id int64, theme int16) error {
	_, err := s.pool.Exec(ctx, "UPDATE users SET theme = $1 WHERE user_id = $2", theme, id)
	return err
}

// --- Auth tokens ---

// CreateAuthToken inserts a new remember-me token row.
// hashedToken is the hex sha256 of the cookie secret; the caller hashes before calling.
func (s *PostgresStore) CreateAuthToken(ctx context.Context, userID int64, hashedToken, lookup string, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO auth_tokens (user_id, hashed_token, expires_at, lookup) VALUES ($1, $2, $3, $4)",
		userID, hashedToken, expiresAt, lookup)
	return err
}

// GetUserByToken returns the owner of a live token matching all of lookup, hash and user UUID.
// userUUID arrives from the cookie as text; a malformed value fails server-side with 22P02.
// Returns pgx.ErrNoRows if any predicate fails or the token is expired.
func (s *PostgresStore) GetUserByToken(ctx context.Context, lookup, hashedToken, userUUID string) (*User, error) {
	return scanUser(s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM auth_tokens t
		INNER JOIN users u ON u.user_id = t.user_id
		WHERE t.expires_at > now()
			AND u.user_uuid = CAST($1::text AS uuid)
			AND t.lookup = $2
			AND t.hashed_token = $3
	`, userUUID, lookup, hashedToken))
}

// GetLookupOwner returns the user_id owning a token with the given lookup, regardless of hash
// or expiry. Used to detect a real lookup presented with a wrong secret.
// Returns pgx.ErrNoRows if no such token exists.
func (s *PostgresStore) GetLookupOwner(ctx context.Context, userUUID, lookup string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		SELECT u.user_id
		FROM auth_tokens t
		INNER JOIN users u ON u.user_id = t.user_id
		WHERE u.user_uuid = CAST($1::text AS uuid) AND t.lookup = $2
		LIMIT 1
	`, userUUID, lookup).Scan(&id)
	return id, err
}

// RotateAuthToken replaces the stored hash of the (userID, lookup) row in place and
// returns the row's unchanged expiry. Returns pgx.ErrNoRows if the row no longer exists.
func (s *PostgresStore) RotateAuthToken(ctx context.Context, userID int64, lookup, hashedToken string) (time.Time, error) {
	var expiresAt time.Time
	err := s.pool.QueryRow(ctx,
		"UPDATE auth_tokens SET hashed_token = $3 WHERE user_id = $1 AND lookup = $2 RETURNING expires_at",
		userID, lookup, hashedToken,
	).Scan(&expiresAt)
	return expiresAt, err
}

// DeleteAuthToken removes the single token matching userID, lookup and hash.
// No error when nothing matches; logout of an already-rotated cookie is a no-op.
func (s *PostgresStore) DeleteAuthToken(ctx context.Context, userID int64, lookup, hashedToken string) error {
	_, err := s.pool.Exec(ctx,
		"DELETE FROM auth_tokens WHERE user_id = $1 AND lookup = $2 AND hashed_token = $3",
		userID, lookup, hashedToken)
	return err
}

// DeleteUserAuthTokens removes every token belonging to userID.
func (s *PostgresStore) DeleteUserAuthTokens(ctx context.Context, userID int64) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM auth_tokens WHERE user_id = $1", userID)
	return err
}

// DeleteExpiredAuthTokens removes tokens past expires_at and returns the count deleted.
func (s *PostgresStore) DeleteExpiredAuthTokens(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM auth_tokens WHERE expires_at <= now()")
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
