package title

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultLockTTL = 30 * time.Second

// Locker serializes title generation per thread across server instances.
type Locker interface {
	Acquire(ctx context.Context, threadID string) (release func(), acquired bool, err error)
}

type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisLocker{client: client, ttl: ttl}
}

func lockKey(threadID string) string {
	return "title:lock:" + threadID
}

func (l *RedisLocker) Acquire(ctx context.Context, threadID string) (func(), bool, error) {
	key := lockKey(threadID)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}
	return release, true, nil
}
