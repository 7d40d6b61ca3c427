package dedup

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dsr.gov.ph/registry/internal/pkg/logger"
	"dsr.gov.ph/registry/internal/pkg/metrics"
)

// ErrLockNotAcquired is returned when a blocking key stays held past the
// caller's deadline.
var ErrLockNotAcquired = errors.New("blocking key lock not acquired")

// Locker serializes dedup-then-persist across ingestions sharing a blocking
// key. Keys are acquired in sorted order; unlock releases all of them.
type Locker interface {
	Lock(ctx context.Context, keys []string) (unlock func(), err error)
}

func sortedKeys(keys []string) []string {
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}

// MemoryLocker is an in-process keyed mutex.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewMemoryLocker creates a MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]*slot)}
}

func (l *MemoryLocker) ref(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *MemoryLocker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.slots[key]; ok {
		s.refs--
		if s.refs == 0 {
			delete(l.slots, key)
		}
	}
}

// Lock blocks until every key is held or ctx is done.
func (l *MemoryLocker) Lock(ctx context.Context, keys []string) (func(), error) {
	start := time.Now()
	keys = sortedKeys(keys)

	type heldSlot struct {
		key string
		s   *slot
	}
	held := make([]heldSlot, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i].s.ch
			l.unref(held[i].key)
		}
	}

	for _, k := range keys {
		s := l.ref(k)
		select {
		case s.ch <- struct{}{}:
			held = append(held, heldSlot{key: k, s: s})
		case <-ctx.Done():
			l.unref(k)
			release()
			return nil, fmt.Errorf("lock %s: %w", k, errors.Join(ErrLockNotAcquired, ctx.Err()))
		}
	}
	metrics.LockWait.Observe(time.Since(start).Seconds())

	var once sync.Once
	return func() { once.Do(release) }, nil
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker holds blocking keys across service instances with SET NX PX.
// A crashed holder's keys expire after TTL.
type RedisLocker struct {
	rdb       redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	wait      time.Duration
}

// NewRedisLocker creates a RedisLocker. wait bounds how long Lock retries a
// held key when ctx has no earlier deadline.
func NewRedisLocker(rdb redis.UniversalClient, keyPrefix string, ttl, wait time.Duration) *RedisLocker {
	if keyPrefix == "" {
		keyPrefix = "registry:lock:"
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if wait <= 0 {
		wait = 10 * time.Second
	}
	return &RedisLocker{rdb: rdb, keyPrefix: keyPrefix, ttl: ttl, wait: wait}
}

// Lock acquires every key, retrying held keys with capped exponential backoff.
func (l *RedisLocker) Lock(ctx context.Context, keys []string) (func(), error) {
	start := time.Now()
	token := uuid.NewString()
	keys = sortedKeys(keys)

	ctx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	held := make([]string, 0, len(keys))
	for _, k := range keys {
		redisKey := l.keyPrefix + k
		if err := l.acquire(ctx, redisKey, token); err != nil {
			l.release(held, token)
			return nil, fmt.Errorf("lock %s: %w", k, err)
		}
		held = append(held, redisKey)
	}
	metrics.LockWait.Observe(time.Since(start).Seconds())

	var once sync.Once
	return func() {
		once.Do(func() { l.release(held, token) })
	}, nil
}

func (l *RedisLocker) acquire(ctx context.Context, key, token string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 0

	op := func() error {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(errors.Join(ErrLockNotAcquired, ctx.Err()))
			}
			return backoff.Permanent(err)
		}
		if !ok {
			return ErrLockNotAcquired
		}
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	if err != nil && ctx.Err() != nil && !errors.Is(err, ErrLockNotAcquired) {
		return errors.Join(ErrLockNotAcquired, ctx.Err())
	}
	return err
}

// release deletes keys still owned by token. It uses a fresh context so a
// cancelled ingestion still frees its keys.
func (l *RedisLocker) release(keys []string, token string) {
	if len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for i := len(keys) - 1; i >= 0; i-- {
		n, err := releaseScript.Run(ctx, l.rdb, []string{keys[i]}, token).Int64()
		if err != nil {
			logger.Warn("Failed to release blocking key lock", zap.String("key", keys[i]), zap.Error(err))
			continue
		}
		if n == 0 {
			logger.Warn("Blocking key lock expired before release", zap.String("key", keys[i]))
		}
	}
}
