package locks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/hotel-refunds/internal/models"
)

var fastOpts = Options{TTL: time.Second, MaxAttempts: 3, Backoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLocker(client, "refunds", fastOpts), mr
}

func lockers(t *testing.T) map[string]Locker {
	rl, _ := newRedisLocker(t)
	return map[string]Locker{
		"local": NewLocalLocker(fastOpts),
		"redis": rl,
	}
}

func TestLockerExclusive(t *testing.T) {
	ctx := context.Background()
	for name, l := range lockers(t) {
		t.Run(name, func(t *testing.T) {
			lease, err := l.Acquire(ctx, CaseKey("c1"))
			require.NoError(t, err)

			_, err = l.Acquire(ctx, CaseKey("c1"))
			assert.ErrorIs(t, err, models.ErrLockNotAcquired)

			other, err := l.Acquire(ctx, CaseKey("c2"))
			require.NoError(t, err, "keys are independent")
			require.NoError(t, other.Release(ctx))

			require.NoError(t, lease.Release(ctx))
			again, err := l.Acquire(ctx, CaseKey("c1"))
			require.NoError(t, err)
			require.NoError(t, again.Release(ctx))
		})
	}
}

func TestLockerWaitsForRelease(t *testing.T) {
	ctx := context.Background()
	opts := Options{TTL: time.Second, MaxAttempts: 50, Backoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
	l := NewLocalLocker(opts)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := l.Acquire(ctx, "k")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			assert.NoError(t, lease.Release(ctx))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestRedisLeaseExpiresAndStaleReleaseIsHarmless(t *testing.T) {
	ctx := context.Background()
	l, mr := newRedisLocker(t)

	stale, err := l.Acquire(ctx, "k")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	fresh, err := l.Acquire(ctx, "k")
	require.NoError(t, err, "expired lease frees the key")

	require.NoError(t, stale.Release(ctx))
	assert.True(t, mr.Exists("refunds:k"), "stale release must not delete the new holder's key")

	require.NoError(t, fresh.Release(ctx))
	assert.False(t, mr.Exists("refunds:k"))
}

func TestAcquireHonoursContext(t *testing.T) {
	l := NewLocalLocker(Options{MaxAttempts: 1000, Backoff: 10 * time.Millisecond})
	lease, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)
	defer lease.Release(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
