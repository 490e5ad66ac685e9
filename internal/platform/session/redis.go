package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// removeTokenScript atomically removes a token from a user's session set and
// deletes the set once it is empty.
const removeTokenScript = `
local removed = redis.call('SREM', KEYS[1], ARGV[1])
if removed > 0 then
	local count = redis.call('SCARD', KEYS[1])
	if count == 0 then
		redis.call('DEL', KEYS[1])
	end
end
return removed
`

// RedisStore keeps each session at session:<id> with a TTL matching its
// expiry, and indexes a user's sessions in the set user_sessions:<userID>.
type RedisStore struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, now: time.Now}
}

func sessionKeyFor(id string) string  { return "session:" + id }
func userSetKey(userID string) string { return "user_sessions:" + userID }

func (r *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := r.rdb.Get(ctx, sessionKeyFor(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

func (r *RedisStore) Save(ctx context.Context, s *Session) error {
	ttl := s.ExpiresAt.Sub(r.now()).Truncate(time.Second)
	if ttl <= 0 {
		return fmt.Errorf("save session: already expired")
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.rdb.Set(ctx, sessionKeyFor(s.ID), string(data), ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	if s.UserID != "" {
		key := userSetKey(s.UserID)
		if err := r.rdb.SAdd(ctx, key, s.ID).Err(); err != nil {
			return fmt.Errorf("index session: %w", err)
		}
		// the index lives as long as the most recently saved session
		if err := r.rdb.Expire(ctx, key, ttl).Err(); err != nil {
			return fmt.Errorf("index session: %w", err)
		}
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, s *Session) error {
	if err := r.rdb.Del(ctx, sessionKeyFor(s.ID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if s.UserID != "" {
		if err := r.rdb.Eval(ctx, removeTokenScript, []string{userSetKey(s.UserID)}, s.ID).Err(); err != nil {
			return fmt.Errorf("unindex session: %w", err)
		}
	}
	return nil
}

func (r *RedisStore) DeleteUser(ctx context.Context, userID string) error {
	key := userSetKey(userID)
	members, err := r.rdb.SMembers(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("list user sessions: %w", err)
	}
	for _, id := range members {
		if err := r.rdb.Del(ctx, sessionKeyFor(id)).Err(); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
	}
	return r.rdb.Del(ctx, key).Err()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisStore) Kind() string { return "redis" }

// NewStore selects the session backend: Redis when redisURL is set (it must
// answer a ping), memory otherwise.
func NewStore(ctx context.Context, redisURL string) (Store, error) {
	if redisURL == "" {
		return NewMemoryStore(), nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisStore(rdb), nil
}
