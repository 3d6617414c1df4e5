package stream

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"MagicChat/module/chat/model"
	"MagicChat/tools/errs"
)

const (
	streamKeyPrefix = "chat:stream:"
	streamActiveKey = "chat:stream:active" // zset, score = last_active_ms
)

// RedisCache 流式缓存的 redis 实现. 值是 JSON,活跃时间另挂一个 zset
// 做收割索引. 值键带 TTL 兜底,即使收割器长期不在线也不会泄漏.
type RedisCache struct {
	rdb      redis.UniversalClient
	entryTTL time.Duration
}

func NewRedisCache(rdb redis.UniversalClient) *RedisCache {
	return &RedisCache{rdb: rdb, entryTTL: 24 * time.Hour}
}

func (c *RedisCache) key(appMessageID string) string {
	return streamKeyPrefix + appMessageID
}

func (c *RedisCache) Put(ctx context.Context, e *model.StreamCacheEntry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return errs.WrapMsg(err, "marshal stream entry")
	}
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, c.key(e.AppMessageID), raw, c.entryTTL)
	pipe.ZAdd(ctx, streamActiveKey, redis.Z{
		Score:  float64(e.LastActiveMS),
		Member: e.AppMessageID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.WrapMsg(err, "put stream entry", "app_message_id", e.AppMessageID)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, appMessageID string) (*model.StreamCacheEntry, error) {
	raw, err := c.rdb.Get(ctx, c.key(appMessageID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "get stream entry", "app_message_id", appMessageID)
	}
	var e model.StreamCacheEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, errs.WrapMsg(err, "unmarshal stream entry")
	}
	return &e, nil
}

func (c *RedisCache) Delete(ctx context.Context, appMessageID string) error {
	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, c.key(appMessageID))
	pipe.ZRem(ctx, streamActiveKey, appMessageID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.WrapMsg(err, "delete stream entry", "app_message_id", appMessageID)
	}
	return nil
}

func (c *RedisCache) Stale(ctx context.Context, beforeMS int64, limit int) ([]*model.StreamCacheEntry, error) {
	ids, err := c.rdb.ZRangeByScore(ctx, streamActiveKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(beforeMS, 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, errs.WrapMsg(err, "scan stale streams")
	}
	out := make([]*model.StreamCacheEntry, 0, len(ids))
	for _, id := range ids {
		e, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if e == nil {
			// 值键先于索引过期,顺手清掉
			_ = c.rdb.ZRem(ctx, streamActiveKey, id).Err()
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
