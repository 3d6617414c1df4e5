// Package storage 在线状态存取. 网关在用户连接/断开时写 presence,
// 这里只读,推送前用来跳过明确离线的收件人.
package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const presenceKeyPrefix = "chat:presence:"

// Presence 基于 redis 的在线表. key 的 value 是网关节点 id,
// TTL 到期视为离线,网关心跳续期.
type Presence struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewPresence(rdb redis.UniversalClient, ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Presence{rdb: rdb, ttl: ttl}
}

func presenceKey(uid string) string { return presenceKeyPrefix + uid }

// Online 标记上线并续期,网关侧调用
func (p *Presence) Online(ctx context.Context, uid, gatewayID string) error {
	return p.rdb.Set(ctx, presenceKey(uid), gatewayID, p.ttl).Err()
}

// Offline 主动下线
func (p *Presence) Offline(ctx context.Context, uid string) error {
	return p.rdb.Del(ctx, presenceKey(uid)).Err()
}

// Gateway 返回用户所在网关节点,离线返回空串
func (p *Presence) Gateway(ctx context.Context, uid string) (string, error) {
	v, err := p.rdb.Get(ctx, presenceKey(uid)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

// IsOnline 查询失败按在线处理,宁可多推一次也不丢推送
func (p *Presence) IsOnline(ctx context.Context, uid string) bool {
	v, err := p.Gateway(ctx, uid)
	if err != nil {
		return true
	}
	return v != ""
}
