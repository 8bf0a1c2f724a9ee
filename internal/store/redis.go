package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/reivaj/flowstate/pkg/schema"
)

const contextKeyPrefix = "flowstate:ctx:"

// RedisContextStore is a ContextStore backed by Redis. Entries carry an
// optional TTL so abandoned conversations fall out on their own.
type RedisContextStore struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int

	// TTL applied to every context key. Zero means no expiry.
	TTL time.Duration
}

// NewRedisContextStore connects to Redis and verifies the connection with a ping.
func NewRedisContextStore(opts RedisOptions) (*RedisContextStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisContextStore{client: client, ttl: opts.TTL}, nil
}

func contextKey(agentID, sessionID, key string) string {
	return fmt.Sprintf("%s%s:%s:%s", contextKeyPrefix, agentID, sessionID, key)
}

func contextPattern(agentID, sessionID string) string {
	return fmt.Sprintf("%s%s:%s:*", contextKeyPrefix, agentID, sessionID)
}

func (s *RedisContextStore) GetAll(ctx context.Context, agentID, sessionID string) (map[string]any, error) {
	pattern := contextPattern(agentID, sessionID)
	values := make(map[string]any)
	prefixLen := len(contextKey(agentID, sessionID, ""))

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan context keys: %w", err)
		}
		if len(keys) > 0 {
			raws, err := s.client.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, fmt.Errorf("mget context values: %w", err)
			}
			for i, key := range keys {
				raw, ok := raws[i].(string)
				if !ok {
					continue
				}
				var v any
				if err := json.Unmarshal([]byte(raw), &v); err != nil {
					return nil, fmt.Errorf("unmarshal context key %q: %w", key, err)
				}
				values[key[prefixLen:]] = v
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return values, nil
}

func (s *RedisContextStore) Set(ctx context.Context, agentID, sessionID, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore,
			"context value for %q is not JSON-serializable", key).WithCause(err)
	}
	return s.client.Set(ctx, contextKey(agentID, sessionID, key), raw, s.ttl).Err()
}

// SetAll writes every entry through one pipeline round trip.
func (s *RedisContextStore) SetAll(ctx context.Context, agentID, sessionID string, values map[string]any) error {
	if len(values) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for key, value := range values {
		raw, err := json.Marshal(value)
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeStore,
				"context value for %q is not JSON-serializable", key).WithCause(err)
		}
		pipe.Set(ctx, contextKey(agentID, sessionID, key), raw, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipeline set context: %w", err)
	}
	return nil
}

func (s *RedisContextStore) Delete(ctx context.Context, agentID, sessionID, key string) error {
	return s.client.Del(ctx, contextKey(agentID, sessionID, key)).Err()
}

func (s *RedisContextStore) DeleteAll(ctx context.Context, agentID, sessionID string) error {
	pattern := contextPattern(agentID, sessionID)
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("scan context keys: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete context keys: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

// Close closes the Redis client connection.
func (s *RedisContextStore) Close() error {
	return s.client.Close()
}
