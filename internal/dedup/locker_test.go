package dedup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLocker_Exclusive(t *testing.T) {
	l := NewMemoryLocker()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), []string{"psn:1", "name:x"})
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside.Load())
	assert.Empty(t, l.slots, "slots are reclaimed once unused")
}

func TestMemoryLocker_TimeoutReleasesPartialKeys(t *testing.T) {
	l := NewMemoryLocker()

	unlockB, err := l.Lock(context.Background(), []string{"b"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, []string{"a", "b"})
	require.ErrorIs(t, err, ErrLockNotAcquired)

	// "a" was released when "b" timed out.
	unlockA, err := l.Lock(context.Background(), []string{"a"})
	require.NoError(t, err)
	unlockA()
	unlockB()
	unlockB()
}

func TestMemoryLocker_DisjointKeysDoNotBlock(t *testing.T) {
	l := NewMemoryLocker()
	unlock1, err := l.Lock(context.Background(), []string{"k1"})
	require.NoError(t, err)
	defer unlock1()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlock2, err := l.Lock(ctx, []string{"k2"})
	require.NoError(t, err)
	unlock2()
}

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisLocker(rdb, "test:lock:", 5*time.Second, 200*time.Millisecond), mr
}

func TestRedisLocker_LockUnlock(t *testing.T) {
	l, mr := newRedisLocker(t)

	unlock, err := l.Lock(context.Background(), []string{"psn:123456789012", "name:x"})
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:lock:psn:123456789012"))
	assert.True(t, mr.Exists("test:lock:name:x"))

	_, err = l.Lock(context.Background(), []string{"psn:123456789012"})
	require.ErrorIs(t, err, ErrLockNotAcquired)

	unlock()
	assert.False(t, mr.Exists("test:lock:psn:123456789012"))
	assert.False(t, mr.Exists("test:lock:name:x"))

	unlock2, err := l.Lock(context.Background(), []string{"psn:123456789012"})
	require.NoError(t, err)
	unlock2()
}

func TestRedisLocker_WaitsForRelease(t *testing.T) {
	l, _ := newRedisLocker(t)
	l.wait = 2 * time.Second

	unlock, err := l.Lock(context.Background(), []string{"hh:1"})
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		unlock()
	}()

	unlock2, err := l.Lock(context.Background(), []string{"hh:1"})
	require.NoError(t, err)
	unlock2()
}

func TestRedisLocker_ReleaseIgnoresForeignToken(t *testing.T) {
	l, mr := newRedisLocker(t)

	unlock, err := l.Lock(context.Background(), []string{"k"})
	require.NoError(t, err)

	// Another holder took over after expiry.
	require.NoError(t, mr.Set("test:lock:k", "someone-else"))
	unlock()

	v, err := mr.Get("test:lock:k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", v)
}
