// Package idempotency serializes concurrent requests that carry the same
// attempt id so only one of them can reach the payment gateway.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrInFlight is returned when another request holds the attempt.
var ErrInFlight = errors.New("attempt is already being processed")

// Locker grants exclusive, expiring ownership of a key.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// NewLocker returns a Redis-backed locker, or an in-process one when client is nil.
func NewLocker(client *redis.Client, ttl time.Duration) Locker {
	if client == nil {
		return NewMemoryLocker()
	}
	return NewRedisLocker(client, ttl)
}

// releaseScript deletes the key only if we still own it.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`

type RedisLocker struct {
	client   *redis.Client
	ttl      time.Duration
	prefix   string
	newToken func() string
	fallback *MemoryLocker
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client:   client,
		ttl:      ttl,
		prefix:   "attempt-lock:",
		newToken: uuid.NewString,
		fallback: NewMemoryLocker(),
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := l.prefix + key
	token := l.newToken()

	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		// Redis outage must not block payments; this instance still excludes
		// its own concurrent requests.
		slog.Warn("redis lock unavailable, using in-process lock", "key", key, "error", err)
		return l.fallback.Acquire(ctx, key)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrInFlight)
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.client.Eval(releaseCtx, releaseScript, []string{redisKey}, token).Err(); err != nil {
			slog.Warn("failed to release attempt lock", "key", key, "error", err)
		}
	}, nil
}

// MemoryLocker is a process-local Locker.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return nil, fmt.Errorf("%s: %w", key, ErrInFlight)
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
