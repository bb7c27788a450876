package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// modeData holds the data stored for each user's input mode
type modeData struct {
	Mode      string    `json:"mode"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RedisStore implements mode storage using Redis
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a new Redis-backed mode store
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{
		client: client,
		prefix: "mode:",
		ttl:    ttl,
	}
}

func (s *RedisStore) key(userID string) string {
	return s.prefix + userID
}

// GetMode returns the user's current input mode, ModeIdle when no mode has
// been set or the stored one expired.
func (s *RedisStore) GetMode(ctx context.Context, userID string) (string, error) {
	jsonData, err := s.client.Get(ctx, s.key(userID)).Result()
	if err == redis.Nil {
		return ModeIdle, nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup mode: %w", err)
	}

	var data modeData
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		return "", fmt.Errorf("unmarshal mode data: %w", err)
	}
	if !ValidMode(data.Mode) {
		return ModeIdle, nil
	}
	return data.Mode, nil
}

// SetMode stores the user's input mode. Setting a mode while another one is
// active simply overwrites it: last request wins.
func (s *RedisStore) SetMode(ctx context.Context, userID, mode string) error {
	if !ValidMode(mode) {
		return errUnknownMode(mode)
	}
	jsonData, err := json.Marshal(modeData{Mode: mode, UpdatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("marshal mode data: %w", err)
	}
	if err := s.client.Set(ctx, s.key(userID), jsonData, s.ttl).Err(); err != nil {
		return fmt.Errorf("save mode: %w", err)
	}
	return nil
}

// ClearMode resets the user to ModeIdle. Clearing an unset mode is a no-op.
func (s *RedisStore) ClearMode(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("clear mode: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
