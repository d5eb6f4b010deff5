package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/caseview/internal/listview"
)

// RedisStore is a Redis-backed Store. Each snapshot is one JSON string with
// the session TTL.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a new Redis-backed store.
func NewRedisStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// Get loads a snapshot. Record numbers decode as json.Number, the same way
// upstream responses are decoded.
func (s *RedisStore) Get(ctx context.Context, sessionID, pageID string) (listview.State, bool, error) {
	key := Key(s.prefix, sessionID, pageID)
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return listview.State{}, false, nil
	}
	if err != nil {
		return listview.State{}, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var state listview.State
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&state); err != nil {
		return listview.State{}, false, fmt.Errorf("unmarshal session state %q: %w", key, err)
	}
	return state, true, nil
}

// Put saves a snapshot with the store TTL.
func (s *RedisStore) Put(ctx context.Context, sessionID, pageID string, state listview.State) error {
	key := Key(s.prefix, sessionID, pageID)
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Delete removes a snapshot.
func (s *RedisStore) Delete(ctx context.Context, sessionID, pageID string) error {
	key := Key(s.prefix, sessionID, pageID)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// HealthCheck pings Redis.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
