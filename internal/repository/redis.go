package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kostbook/internal/config"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a client from config
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// Ping checks the Redis connection
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}

// releaseScript deletes the lock only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisRoomLocker is a per-room lease shared by every API replica.
// The TTL bounds how long a crashed holder can block a room.
type RedisRoomLocker struct {
	client       *redis.Client
	ttl          time.Duration
	pollInterval time.Duration
	keyPrefix    string
}

func NewRedisRoomLocker(client *redis.Client, ttl time.Duration) *RedisRoomLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisRoomLocker{
		client:       client,
		ttl:          ttl,
		pollInterval: 25 * time.Millisecond,
		keyPrefix:    "kostbook:room_lock:",
	}
}

func (l *RedisRoomLocker) key(roomID int64) string {
	return fmt.Sprintf("%s%d", l.keyPrefix, roomID)
}

func (l *RedisRoomLocker) LockRoom(ctx context.Context, roomID int64) (func(), error) {
	if l.client == nil {
		return nil, errors.New("redis client is nil")
	}
	key := l.key(roomID)
	token := uuid.NewString()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("lock room %d: %w", roomID, ctx.Err())
			}
			return nil, fmt.Errorf("failed to acquire room lock in redis: %w", err)
		}
		if ok {
			return l.releaser(key, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock room %d: %w", roomID, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *RedisRoomLocker) releaser(key, token string) func() {
	return func() {
		// the caller's ctx may already be done
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}
}
