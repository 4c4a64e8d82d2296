// Package redis keeps session status snapshots in Redis with a TTL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Sbajrac2/Reddit-explorer/internal/crawler"
)

const defaultPrefix = "explorer:session:"

// Config names the server and key expiry.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// TTL expires snapshots; zero keeps them forever.
	TTL time.Duration
}

type kv interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Close() error
}

// SessionStore implements crawler.SessionStore on Redis strings.
type SessionStore struct {
	client kv
	prefix string
	ttl    time.Duration
}

// Dial creates a client and pings the server.
func Dial(ctx context.Context, cfg Config) (*SessionStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return newSessionStore(client, cfg), nil
}

func newSessionStore(client kv, cfg Config) *SessionStore {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &SessionStore{client: client, prefix: prefix, ttl: cfg.TTL}
}

// Close closes the Redis client.
func (s *SessionStore) Close() error {
	return s.client.Close()
}

// PutSession writes the snapshot and refreshes its expiry.
func (s *SessionStore) PutSession(ctx context.Context, info crawler.SessionInfo) error {
	if info.ID == "" {
		return fmt.Errorf("put session: empty id")
	}
	payload, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", info.ID, err)
	}
	if err := s.client.Set(ctx, s.prefix+info.ID, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("set session %s: %w", info.ID, err)
	}
	return nil
}

// GetSession reads a snapshot. Expired or unknown ids yield crawler.ErrNotFound.
func (s *SessionStore) GetSession(ctx context.Context, id string) (crawler.SessionInfo, error) {
	val, err := s.client.Get(ctx, s.prefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return crawler.SessionInfo{}, fmt.Errorf("get session %s: %w", id, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.SessionInfo{}, fmt.Errorf("get session %s: %w", id, err)
	}
	var info crawler.SessionInfo
	if err := json.Unmarshal([]byte(val), &info); err != nil {
		return crawler.SessionInfo{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return info, nil
}
