package locks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token, so a
// lease that outlived its TTL cannot free someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLocker shares locks across replicas with SET NX PX.
type RedisLocker struct {
	Redis  *redis.Client
	Prefix string
	opts   Options
}

// NewRedisLocker returns a locker on client. Keys are stored under prefix.
func NewRedisLocker(client *redis.Client, prefix string, opts Options) *RedisLocker {
	return &RedisLocker{Redis: client, Prefix: prefix, opts: opts.withDefaults()}
}

func (l *RedisLocker) key(raw string) string {
	if l.Prefix == "" {
		return raw
	}
	return l.Prefix + ":" + raw
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	full := l.key(key)
	token := uuid.NewString()
	return retry(ctx, key, l.opts, func() (Lease, bool, error) {
		ok, err := l.Redis.SetNX(ctx, full, token, l.opts.TTL).Result()
		if err != nil {
			return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if !ok {
			return nil, false, nil
		}
		return &redisLease{client: l.Redis, key: full, token: token}, true, nil
	})
}

type redisLease struct {
	client *redis.Client
	key    string
	token  string
}

func (lease *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, lease.client, []string{lease.key}, lease.token).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", lease.key, err)
	}
	return nil
}
