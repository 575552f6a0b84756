package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// unlockScript удаляет ключ только если им всё ещё владеет тот же токен.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a best-effort cross-instance mutex built on SET NX with a TTL.
type Locker struct {
	c      *redis.Client
	prefix string
}

func NewLocker(addr, prefix string) *Locker {
	return &Locker{
		c:      redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
	}
}

// TryLock returns false without error when somebody else holds the key.
func (l *Locker) TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := l.c.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis setnx")
	}
	return ok, nil
}

func (l *Locker) Unlock(ctx context.Context, key, token string) error {
	if err := unlockScript.Run(ctx, l.c, []string{l.prefix + key}, token).Err(); err != nil {
		return errors.Wrap(err, "redis unlock")
	}
	return nil
}
