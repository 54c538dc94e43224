package state

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/penserai/acteon/pkg/logger"
)

// Redis DB allocation for the gateway's own use, mirroring the teacher's
// core/redis_client.go isolation scheme but scoped to Acteon's concerns.
const (
	RedisDBState          = 0
	RedisDBLocks          = 1
	RedisDBQuota          = 2
	RedisDBCircuitBreaker = 3
	// 4-15 reserved for caller extensions.
)

// RedisStore is a Store backed by go-redis/v8, grounded on the teacher's
// RedisClient wrapper (namespacing, DB isolation, structured logging),
// generalized with Lua scripts for atomic CheckAndSet/Increment/
// CompareAndSwap and sorted sets for the timeout/chain-ready indexes.
type RedisStore struct {
	client    *redis.Client
	namespace string
	logger    logger.Logger
}

// RedisStoreOptions configures a RedisStore.
type RedisStoreOptions struct {
	RedisURL  string
	DB        int
	Namespace string
	Logger    logger.Logger
}

// NewRedisStore connects to Redis and verifies connectivity with a 5s
// timeout ping, mirroring the teacher's NewRedisClient.
func NewRedisStore(opts RedisStoreOptions) (*RedisStore, error) {
	log := opts.Logger
	if log == nil {
		log = logger.NoOpLogger{}
	}
	if opts.RedisURL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}

	redisOpt, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if opts.DB >= 0 && opts.DB <= 15 {
		redisOpt.DB = opts.DB
	}

	client := redis.NewClient(redisOpt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis DB %d: %w", opts.DB, err)
	}

	log.Info("redis state store connected", map[string]interface{}{
		"db": opts.DB, "namespace": opts.Namespace,
	})

	return &RedisStore{client: client, namespace: opts.Namespace, logger: log}, nil
}

func (r *RedisStore) Close() error { return r.client.Close() }

func (r *RedisStore) key(k string) string {
	if r.namespace != "" {
		return r.namespace + ":" + k
	}
	return k
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.HGet(ctx, r.key(key), "val").Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string, ttlSeconds int64) error {
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.key(key), "val", value)
	pipe.HIncrBy(ctx, r.key(key), "ver", 1)
	if ttlSeconds > 0 {
		pipe.Expire(ctx, r.key(key), time.Duration(ttlSeconds)*time.Second)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Del(ctx, r.key(key)).Result()
	return n > 0, err
}

var checkAndSetScript = redis.NewScript(`
local ok = redis.call('HSETNX', KEYS[1], 'val', ARGV[1])
if ok == 1 then
  redis.call('HSET', KEYS[1], 'ver', 1)
  if tonumber(ARGV[2]) > 0 then
    redis.call('EXPIRE', KEYS[1], ARGV[2])
  end
  return 1
end
return 0
`)

func (r *RedisStore) CheckAndSet(ctx context.Context, key, value string, ttlSeconds int64) (bool, error) {
	res, err := checkAndSetScript.Run(ctx, r.client, []string{r.key(key)}, value, ttlSeconds).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

var incrementScript = redis.NewScript(`
local new = redis.call('HINCRBY', KEYS[1], 'val', ARGV[1])
redis.call('HINCRBY', KEYS[1], 'ver', 1)
if tonumber(ARGV[2]) > 0 then
  redis.call('EXPIRE', KEYS[1], ARGV[2])
end
return new
`)

func (r *RedisStore) Increment(ctx context.Context, key string, delta int64, ttlSeconds int64) (int64, error) {
	return incrementScript.Run(ctx, r.client, []string{r.key(key)}, delta, ttlSeconds).Int64()
}

var casScript = redis.NewScript(`
local exists = redis.call('EXISTS', KEYS[1])
local expectedVersion = tonumber(ARGV[1])
if exists == 0 then
  if expectedVersion ~= 0 then
    return 'not_found'
  end
  redis.call('HSET', KEYS[1], 'val', ARGV[2], 'ver', 1)
  if tonumber(ARGV[3]) > 0 then
    redis.call('EXPIRE', KEYS[1], ARGV[3])
  end
  return 'ok'
end
local curVer = tonumber(redis.call('HGET', KEYS[1], 'ver'))
if curVer ~= expectedVersion then
  return 'mismatch'
end
redis.call('HSET', KEYS[1], 'val', ARGV[2])
redis.call('HINCRBY', KEYS[1], 'ver', 1)
if tonumber(ARGV[3]) > 0 then
  redis.call('EXPIRE', KEYS[1], ARGV[3])
end
return 'ok'
`)

func (r *RedisStore) CompareAndSwap(ctx context.Context, key string, expectedVersion int64, value string, ttlSeconds int64) (CasResult, error) {
	res, err := casScript.Run(ctx, r.client, []string{r.key(key)}, expectedVersion, value, ttlSeconds).Text()
	if err != nil {
		return CasNotFound, err
	}
	switch res {
	case "ok":
		return CasSuccess, nil
	case "mismatch":
		return CasVersionMismatch, nil
	default:
		return CasNotFound, nil
	}
}

func (r *RedisStore) ScanKeys(ctx context.Context, namespace, tenant, kind, prefix string) ([]string, error) {
	pattern := r.key(fmt.Sprintf("%s:%s:%s:%s*", namespace, tenant, kind, prefix))
	return r.scan(ctx, pattern)
}

func (r *RedisStore) ScanKeysByKind(ctx context.Context, kind string) ([]string, error) {
	pattern := r.key(fmt.Sprintf("*:*:%s:*", kind))
	return r.scan(ctx, pattern)
}

func (r *RedisStore) scan(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	return out, iter.Err()
}

func (r *RedisStore) IndexTimeout(ctx context.Context, indexName, id string, expiresAtMs int64) error {
	return r.client.ZAdd(ctx, r.key("timeout:"+indexName), &redis.Z{Score: float64(expiresAtMs), Member: id}).Err()
}

func (r *RedisStore) RemoveTimeoutIndex(ctx context.Context, indexName, id string) error {
	return r.client.ZRem(ctx, r.key("timeout:"+indexName), id).Err()
}

func (r *RedisStore) GetExpiredTimeouts(ctx context.Context, indexName string, nowMs int64) ([]string, error) {
	return r.client.ZRangeByScore(ctx, r.key("timeout:"+indexName), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", nowMs),
	}).Result()
}

func (r *RedisStore) IndexChainReady(ctx context.Context, chainID string, readyAtMs int64) error {
	return r.client.ZAdd(ctx, r.key("chain:ready"), &redis.Z{Score: float64(readyAtMs), Member: chainID}).Err()
}

func (r *RedisStore) RemoveChainReadyIndex(ctx context.Context, chainID string) error {
	return r.client.ZRem(ctx, r.key("chain:ready"), chainID).Err()
}

func (r *RedisStore) GetReadyChains(ctx context.Context, nowMs int64) ([]string, error) {
	return r.client.ZRangeByScore(ctx, r.key("chain:ready"), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", nowMs),
	}).Result()
}

var _ Store = (*RedisStore)(nil)
