package utils

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/sales_backend/config"
)

// DocumentLocker is an in-process try-lock keyed by document. It never waits:
// a held key fails with ErrLockNotObtained so the caller can report a conflict.
type DocumentLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewDocumentLocker() *DocumentLocker {
	return &DocumentLocker{held: map[string]struct{}{}}
}

func (l *DocumentLocker) TryLock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, fmt.Errorf("%w: %s", ErrLockNotObtained, key)
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

// RedisDocumentLocker shares document locks across processes through redislock.
type RedisDocumentLocker struct {
	Client *redislock.Client
	TTL    time.Duration
	Prefix string
}

func NewRedisDocumentLocker(client *redislock.Client) *RedisDocumentLocker {
	return &RedisDocumentLocker{Client: client, TTL: 30 * time.Second, Prefix: "lock:sales"}
}

func (l *RedisDocumentLocker) TryLock(ctx context.Context, key string) (func(), error) {
	logger := config.GetLogger()
	if l.Client == nil {
		err := errors.New("redis lock is nil")
		config.LogError(logger, "documentLock.go", "TryLock", "Redis lock not initialized", key, err)
		return nil, fmt.Errorf("service not ready (redis lock not initialized): %w", err)
	}
	lockKey := fmt.Sprintf("%s:%s", l.Prefix, key)
	lock, err := l.Client.Obtain(ctx, lockKey, l.TTL, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: %s", ErrLockNotObtained, key)
	} else if err != nil {
		config.LogError(logger, "documentLock.go", "TryLock", "Error obtaining lock", key, err)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Released with a fresh context: the request context may already be cancelled.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if releaseErr := lock.Release(releaseCtx); releaseErr != nil && !errors.Is(releaseErr, redislock.ErrLockNotHeld) {
				config.LogError(logger, "documentLock.go", "TryLock", "failed to release redis lock", lockKey, releaseErr)
			}
		})
	}, nil
}
