package lock

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/penserai/acteon/pkg/acteonerr"
	"github.com/penserai/acteon/pkg/logger"
)

// RedisLock grounds its claim step directly on the teacher's
// orchestration/redis_task_store.go Create, which uses
// client.SetNX(ctx, key, data, ttl) for atomic create-if-absent; release
// is generalized to a Lua compare-and-del so a holder whose lease has
// already expired and been claimed by someone else cannot release theirs.
type RedisLock struct {
	client       *redis.Client
	namespace    string
	logger       logger.Logger
	pollInterval time.Duration
}

// NewRedisLock wraps an existing *redis.Client. Callers typically point
// this at state.RedisDBLocks for isolation from other concerns.
func NewRedisLock(client *redis.Client, namespace string, log logger.Logger) *RedisLock {
	if log == nil {
		log = logger.NoOpLogger{}
	}
	return &RedisLock{client: client, namespace: namespace, logger: log, pollInterval: 20 * time.Millisecond}
}

func (l *RedisLock) key(name string) string {
	if l.namespace != "" {
		return l.namespace + ":lock:" + name
	}
	return "lock:" + name
}

func (l *RedisLock) Acquire(ctx context.Context, name string, ttl, timeout time.Duration) (Guard, error) {
	deadline := time.Now().Add(timeout)
	token := uuid.NewString()
	key := l.key(name)

	for {
		ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, acteonerr.New("lock.Acquire", acteonerr.KindLockFailed, err).WithID(name)
		}
		if ok {
			return &redisGuard{client: l.client, key: key, token: token}, nil
		}
		if time.Now().After(deadline) {
			return nil, acteonerr.New("lock.Acquire", acteonerr.KindLockFailed, acteonerr.ErrLockFailed).WithID(name)
		}
		select {
		case <-ctx.Done():
			return nil, acteonerr.New("lock.Acquire", acteonerr.KindLockFailed, ctx.Err()).WithID(name)
		case <-time.After(l.pollInterval):
		}
	}
}

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

type redisGuard struct {
	client *redis.Client
	key    string
	token  string
}

func (g *redisGuard) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, g.client, []string{g.key}, g.token).Err()
}

var _ Lock = (*RedisLock)(nil)
