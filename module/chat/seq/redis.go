package seq

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"MagicChat/module/chat/model"
	"MagicChat/module/chat/repo"
	"MagicChat/tools/errs"
)

// RedisAllocator redis INCR 快路径 + 库内 max(seq_id) 初始化/矫正.
type RedisAllocator struct {
	rdb        redis.UniversalClient
	store      repo.SeqRepo
	seqPrefix  string
	lockPrefix string
	lockTTL    time.Duration
	spinWait   time.Duration
}

func NewRedisAllocator(rdb redis.UniversalClient, store repo.SeqRepo) *RedisAllocator {
	return &RedisAllocator{
		rdb:        rdb,
		store:      store,
		seqPrefix:  "chat:seq",
		lockPrefix: "chat:seq:init",
		lockTTL:    10 * time.Second,
		spinWait:   50 * time.Millisecond,
	}
}

func (a *RedisAllocator) seqKey(key model.InboxKey) string {
	return fmt.Sprintf("%s:%s:%d:%s", a.seqPrefix, key.OrganizationCode, key.ObjectType, key.ObjectID)
}
func (a *RedisAllocator) lockKey(key model.InboxKey) string {
	return fmt.Sprintf("%s:%s:%d:%s", a.lockPrefix, key.OrganizationCode, key.ObjectType, key.ObjectID)
}

func (a *RedisAllocator) Next(ctx context.Context, key model.InboxKey) (int64, error) {
	v, err := a.NextN(ctx, key, 1)
	return v, err
}

// NextN 若 redis 无号(新收件箱或缓存丢失),读库里 max(seq_id) 初始化后再取.
// 返回的是首号,[first, first+n) 连续.
func (a *RedisAllocator) NextN(ctx context.Context, key model.InboxKey, n int) (int64, error) {
	if n <= 0 {
		n = 1
	}
	k := a.seqKey(key)
	if exists, err := a.rdb.Exists(ctx, k).Result(); err == nil && exists > 0 {
		last, err := a.rdb.IncrBy(ctx, k, int64(n)).Result()
		if err != nil {
			return 0, errs.ErrAllocationUnavailable.WrapMsg("redis incr", "key", k)
		}
		return last - int64(n) + 1, nil
	}
	if err := a.initIfNeeded(ctx, key); err != nil {
		return 0, err
	}
	last, err := a.rdb.IncrBy(ctx, k, int64(n)).Result()
	if err != nil {
		return 0, errs.ErrAllocationUnavailable.WrapMsg("redis incr after init", "key", k)
	}
	return last - int64(n) + 1, nil
}

func (a *RedisAllocator) initIfNeeded(ctx context.Context, key model.InboxKey) error {
	k := a.seqKey(key)
	if exists, err := a.rdb.Exists(ctx, k).Result(); err == nil && exists > 0 {
		return nil
	}
	// 加锁防初始化风暴
	lock := a.lockKey(key)
	token := uuid.NewString()
	ok, err := a.rdb.SetNX(ctx, lock, token, a.lockTTL).Result()
	if err != nil {
		return errs.ErrAllocationUnavailable.WrapMsg("acquire init lock", "key", k)
	}
	if !ok {
		timer := time.NewTimer(a.spinWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errs.WrapMsg(ctx.Err(), "wait seq init")
		case <-timer.C:
		}
		if exists, err := a.rdb.Exists(ctx, k).Result(); err == nil && exists > 0 {
			return nil
		}
		return errs.ErrAllocationUnavailable.WrapMsg("seq init contention", "key", k)
	}
	defer func() { _ = unlock(context.WithoutCancel(ctx), a.rdb, lock, token) }()

	// 双检
	if exists, err := a.rdb.Exists(ctx, k).Result(); err == nil && exists > 0 {
		return nil
	}
	storeMax, err := a.store.MaxSeqID(ctx, key)
	if err != nil {
		return errs.ErrAllocationUnavailable.WrapMsg("query store max", "key", k)
	}
	if err := a.rdb.Set(ctx, k, storeMax, 0).Err(); err != nil {
		return errs.ErrAllocationUnavailable.WrapMsg("seed seq key", "key", k)
	}
	return nil
}

// 发现落后时只升不降,矫正后 INCR 取新号
var reconcileAndNextLua = redis.NewScript(`
local k = KEYS[1]
local storeMax = tonumber(ARGV[1])
local v = redis.call('GET', k)
if (not v) or (tonumber(v) < storeMax) then
  redis.call('SET', k, storeMax)
end
return redis.call('INCR', k)
`)

func (a *RedisAllocator) Reconcile(ctx context.Context, key model.InboxKey, storeMax int64) (int64, error) {
	v, err := reconcileAndNextLua.Run(ctx, a.rdb, []string{a.seqKey(key)}, storeMax).Int64()
	if err != nil {
		return 0, errs.ErrAllocationUnavailable.WrapMsg("reconcile seq", "key", a.seqKey(key))
	}
	return v, nil
}

var unlockLua = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

func unlock(ctx context.Context, rdb redis.UniversalClient, key, token string) error {
	return unlockLua.Run(ctx, rdb, []string{key}, token).Err()
}

