// redis.go -- go-redis client for server-side session storage.
//
// Stores session data with TTL under session:<id>.
// Sessions carrying a user are tracked in a per-user Set so every session of
// a user can be dropped at once (token reuse, logout-all).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses redisURL, connects and pings.
// Call once at startup; the client is shared by RedisStore and RedisRateLimiter.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	// Parse redisURL to get option values, if err return it
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	// Create new redis client
	rdb := redis.NewClient(opt)

	// Try and test client to ensure it works correctly
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}

	return rdb, nil
}

// RedisStore wraps a Redis client for session operations.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore returns a session store on top of a shared client.
// Returned store is safe for concurrent use.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb}
}

func sessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}

func userSessionsKey(userID int64) string {
	return fmt.Sprintf("user_sessions:%d", userID)
}

// CheckHealth pings Redis.
func (s *RedisStore) CheckHealth(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// SetSession writes session data with the given TTL.
// Also tracks the session id in the user's Set when the session is authenticated.
func (s *RedisStore) SetSession(ctx context.Context, id string, data CachedSession, ttl time.Duration) error {
	cacheOut, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}

	// Create pipeline to make sure atomic
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(id), cacheOut, ttl)
	if data.UserID != 0 {
		// Index outlives no single session by more than one TTL.
		pipe.SAdd(ctx, userSessionsKey(data.UserID), id)
		pipe.Expire(ctx, userSessionsKey(data.UserID), ttl)
	}

	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// updateSessionScript overwrites a session only while its key still exists.
// Returns 1 if written, 0 if the session is gone.
// KEYS[1] = session key, KEYS[2] = user sessions set,
// ARGV[1] = session JSON, ARGV[2] = ttl ms, ARGV[3] = session id or "" when anonymous.
var updateSessionScript = redis.NewScript(`
if not redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2], 'XX') then
    return 0
end
if ARGV[3] ~= '' then
    redis.call('SADD', KEYS[2], ARGV[3])
    redis.call('PEXPIRE', KEYS[2], ARGV[2])
end
return 1
`)

// UpdateSession rewrites an existing session with the given TTL.
// Returns ErrCacheMiss without writing if the session was deleted or expired meanwhile,
// so a revoked session is never brought back.
func (s *RedisStore) UpdateSession(ctx context.Context, id string, data CachedSession, ttl time.Duration) error {
	cacheOut, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}

	member := ""
	if data.UserID != 0 {
		member = id
	}
	ok, err := updateSessionScript.Run(ctx, s.rdb,
		[]string{sessionKey(id), userSessionsKey(data.UserID)},
		cacheOut, ttl.Milliseconds(), member,
	).Int64()
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	if ok == 0 {
		return ErrCacheMiss
	}
	return nil
}

// GetSession retrieves session data by id.
// Returns ErrCacheMiss if the key does not exist.
func (s *RedisStore) GetSession(ctx context.Context, id string) (*CachedSession, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("fetching session: %w", err)
	}

	var cached CachedSession
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		return nil, fmt.Errorf("parsing session: %w", err)
	}

	return &cached, nil
}

// DeleteSession removes a single session and its entry in the user's tracking Set.
// userID zero skips the Set cleanup.
func (s *RedisStore) DeleteSession(ctx context.Context, id string, userID int64) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, sessionKey(id))
	if userID != 0 {
		pipe.SRem(ctx, userSessionsKey(userID), id)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteAllUserSessions removes all sessions for the given user.
// Uses per-user Redis Set to track which session ids belong to user.
func (s *RedisStore) DeleteAllUserSessions(ctx context.Context, userID int64) error {
	setKey := userSessionsKey(userID)

	ids, err := s.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		return fmt.Errorf("fetching user sessions: %w", err)
	}

	// Delete all session keys + the set itself in one atomic pipeline
	pipe := s.rdb.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, sessionKey(id))
	}
	pipe.Del(ctx, setKey)

	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting user sessions: %w", err)
	}
	return nil
}
