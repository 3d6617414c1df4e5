// Package stream 流式消息装配.
// 分片不产生新的消息与 seq:Start 建一次消息壳和发件方 seq,
// 之后的分片只动 app_message_id 维度的缓存,End 一次性落库.
package stream

import (
	"context"

	"MagicChat/module/chat/model"
)

// Cache 在途流式消息缓存. app_message_id 是客户端生成的幂等键,
// 整个流的生命周期内它是唯一的寻址方式.
type Cache interface {
	Put(ctx context.Context, e *model.StreamCacheEntry) error
	// Get 不存在时返回 (nil, nil)
	Get(ctx context.Context, appMessageID string) (*model.StreamCacheEntry, error)
	Delete(ctx context.Context, appMessageID string) error
	// Stale 按最后活跃时间捞僵死条目,供收割器强制终结
	Stale(ctx context.Context, beforeMS int64, limit int) ([]*model.StreamCacheEntry, error)
}
