// Package lock provides the optional distributed lock that keeps two
// processes from reconciling the same tenancy at the same time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/stacklok/inventory-mirror/internal/config"
)

// ErrNotObtained is returned when another process holds the lock
var ErrNotObtained = errors.New("lock is held by another process")

// Locker obtains named leases
//
//go:generate mockgen -destination=mocks/mock_locker.go -package=mocks -source=lock.go Locker,Lease
type Locker interface {
	// Obtain acquires the lock for key without waiting.
	// Returns ErrNotObtained when it is already held.
	Obtain(ctx context.Context, key string) (Lease, error)
}

// Lease is a held lock
type Lease interface {
	// Release gives the lock up. Releasing an expired lease is not an error.
	Release(ctx context.Context) error
}

// RedisLocker implements Locker on top of redislock. Held leases are
// refreshed every half TTL until released.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	prefix string
}

// NewRedisLocker creates a locker. Keys are prefixed with prefix.
func NewRedisLocker(client redislock.RedisClient, ttl time.Duration, prefix string) *RedisLocker {
	if ttl <= 0 {
		ttl = config.DefaultLockTTL
	}
	return &RedisLocker{
		client: redislock.New(client),
		ttl:    ttl,
		prefix: prefix,
	}
}

// NewRedisClient builds a go-redis client from the lock configuration
func NewRedisClient(cfg *config.LockConfig) (*redis.Client, error) {
	if cfg == nil || cfg.Address == "" {
		return nil, fmt.Errorf("lock address is required")
	}
	password, err := cfg.GetPassword()
	if err != nil {
		return nil, err
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		DB:       cfg.DB,
		Password: password,
	}), nil
}

// Obtain acquires key without retrying
func (l *RedisLocker) Obtain(ctx context.Context, key string) (Lease, error) {
	fullKey := l.prefix + key
	lk, err := l.client.Obtain(ctx, fullKey, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrNotObtained
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain lock %s: %w", fullKey, err)
	}

	refreshCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	lease := &redisLease{
		lock:   lk,
		key:    fullKey,
		ttl:    l.ttl,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go lease.keepAlive(refreshCtx)

	return lease, nil
}

type redisLease struct {
	lock *redislock.Lock
	key  string
	ttl  time.Duration

	cancel  context.CancelFunc
	done    chan struct{}
	release sync.Once
}

func (l *redisLease) keepAlive(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.lock.Refresh(ctx, l.ttl, nil); err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.WarnContext(ctx, "Failed to refresh run lock", "key", l.key, "error", err)
				return
			}
		}
	}
}

func (l *redisLease) Release(ctx context.Context) error {
	var err error
	l.release.Do(func() {
		l.cancel()
		<-l.done

		err = l.lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			slog.WarnContext(ctx, "Run lock expired before release", "key", l.key)
			err = nil
		}
		if err != nil {
			err = fmt.Errorf("failed to release lock %s: %w", l.key, err)
		}
	})
	return err
}
