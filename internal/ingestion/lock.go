package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/content"
	apperrors "github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/redis"
)

// ReleaseFunc gives up a lock taken by a Locker.
type ReleaseFunc func(ctx context.Context) error

// Locker grants exclusive ownership of a key. A key that is already held
// yields an error wrapping apperrors.ErrRunInProgress.
type Locker interface {
	Lock(ctx context.Context, key string) (ReleaseFunc, error)
}

func lockKey(storeID string, ct content.Type) string {
	return "ingestion-lock:" + storeID + ":" + string(ct)
}

type redisLocker struct {
	client *redis.Client
}

// RedisLocker shares run ownership between every worker process.
func RedisLocker(c *redis.Client) Locker {
	return &redisLocker{client: c}
}

func (l *redisLocker) Lock(ctx context.Context, key string) (ReleaseFunc, error) {
	lock, err := l.client.Acquire(ctx, key)
	if errors.Is(err, redis.ErrLockHeld) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrRunInProgress, key)
	}
	if err != nil {
		return nil, err
	}
	return lock.Release, nil
}

// LocalLocker only excludes runs within this process. It backs the CLI and
// tests, where Redis is not available.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]bool)}
}

func (l *LocalLocker) Lock(_ context.Context, key string) (ReleaseFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrRunInProgress, key)
	}
	l.held[key] = true
	return func(context.Context) error {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
		return nil
	}, nil
}
