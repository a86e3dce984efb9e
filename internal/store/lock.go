package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"restaurant-service/internal/apperr"
	"restaurant-service/internal/util"

	"go.uber.org/zap"
)

// Locker serializes mutations per tenant key.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// LocalLocker is an in-process keyed mutex.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLocalLocker creates a new in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]chan struct{})}
}

// Lock blocks until key is free or ctx is done
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	ch, ok := l.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.locks[key] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, apperr.ErrTenantBusy.Wrap(ctx.Err())
	}
}

// LeaseClient is the subset of the Redis client used for leases
type LeaseClient interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

// RedisLocker holds a Redis lease per tenant. The lease expires after ttl
// so a crashed holder cannot wedge the tenant.
type RedisLocker struct {
	client LeaseClient
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
	logger *zap.Logger
}

// NewRedisLocker creates a locker that waits up to wait for each lease
func NewRedisLocker(client LeaseClient, ttl, wait time.Duration) *RedisLocker {
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		wait:   wait,
		retry:  50 * time.Millisecond,
		logger: util.GetLogger(),
	}
}

// Lock polls for the lease until acquired, the wait elapses or ctx is done
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := fmt.Sprintf("tenant:%s", key)
	deadline := time.Now().Add(l.wait)

	for {
		token, ok, err := l.client.AcquireLock(ctx, lockKey, l.ttl)
		if err != nil {
			return nil, apperr.ErrStoreUnavailable.Wrap(err)
		}
		if ok {
			return func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := l.client.ReleaseLock(ctx, lockKey, token); err != nil {
					l.logger.Warn("Failed to release tenant lock",
						zap.String("key", lockKey),
						zap.Error(err))
				}
			}, nil
		}

		if time.Now().After(deadline) {
			return nil, apperr.ErrTenantBusy
		}

		select {
		case <-ctx.Done():
			return nil, apperr.ErrTenantBusy.Wrap(ctx.Err())
		case <-time.After(l.retry):
		}
	}
}
