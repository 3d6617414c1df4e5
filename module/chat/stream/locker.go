package stream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"MagicChat/tools/errs"
)

// KeyLocker 对单个流做互斥,保证分片按到达序串行合入.
// 在等待上限内拿不到锁返回 ErrStreamStateTimeout.
type KeyLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// RedisLocker SETNX 自旋锁. 锁值带随机 token,只解自己加的锁.
type RedisLocker struct {
	rdb     redis.UniversalClient
	prefix  string
	ttl     time.Duration
	maxWait time.Duration
	spin    time.Duration
}

func NewRedisLocker(rdb redis.UniversalClient) *RedisLocker {
	return &RedisLocker{
		rdb:     rdb,
		prefix:  "chat:stream:lock:",
		ttl:     10 * time.Second,
		maxWait: 3 * time.Second,
		spin:    20 * time.Millisecond,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	k := l.prefix + key
	token := lockToken()
	deadline := time.Now().Add(l.maxWait)
	for {
		ok, err := l.rdb.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil {
			return nil, errs.WrapMsg(err, "acquire stream lock", "key", key)
		}
		if ok {
			return func() {
				_ = releaseLua.Run(context.WithoutCancel(ctx), l.rdb, []string{k}, token).Err()
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, errs.ErrStreamStateTimeout.WrapMsg("lock wait exceeded", "key", key)
		}
		timer := time.NewTimer(l.spin)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errs.WrapMsg(ctx.Err(), "wait stream lock")
		case <-timer.C:
		}
	}
}

var releaseLua = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// 持有者令牌,compare-and-del 释放时防误删别人的锁
func lockToken() string {
	return uuid.NewString()
}

// LocalLocker 进程内锁,测试用. 语义与 RedisLocker 对齐,包括等待超时.
type LocalLocker struct {
	mu      sync.Mutex
	locks   map[string]chan struct{}
	maxWait time.Duration
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		locks:   make(map[string]chan struct{}),
		maxWait: 3 * time.Second,
	}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	for {
		l.mu.Lock()
		ch, held := l.locks[key]
		if !held {
			done := make(chan struct{})
			l.locks[key] = done
			l.mu.Unlock()
			return func() {
				l.mu.Lock()
				delete(l.locks, key)
				l.mu.Unlock()
				close(done)
			}, nil
		}
		l.mu.Unlock()

		timer := time.NewTimer(l.maxWait)
		select {
		case <-ch:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return nil, errs.WrapMsg(ctx.Err(), "wait stream lock")
		case <-timer.C:
			return nil, errs.ErrStreamStateTimeout.WrapMsg("lock wait exceeded", "key", key)
		}
	}
}
