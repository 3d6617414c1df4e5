package stream

import (
	"context"
	"time"

	"go.uber.org/zap"

	"MagicChat/logger"
	"MagicChat/module/chat/model"
	"MagicChat/module/chat/repo"
	"MagicChat/tools/errs"
)

// Assembler 分片装配器. 同一流内分片串行合入,文本按到达序拼接,
// End 到达时把完整内容刷回消息与全部 seq 副本,然后销毁缓存.
type Assembler struct {
	cache    Cache
	locker   KeyLocker
	messages repo.MessageRepo
	seqs     repo.SeqRepo
}

func NewAssembler(cache Cache, locker KeyLocker, messages repo.MessageRepo, seqs repo.SeqRepo) *Assembler {
	return &Assembler{cache: cache, locker: locker, messages: messages, seqs: seqs}
}

// OffsetUnknown 分片未声明自己的起始位置.
const OffsetUnknown int64 = -1

// Chunk 一个待合入的流式分片. SenderID/OrganizationCode 来自调用方身份,
// 必须与 Start 时登记的流归属一致.
type Chunk struct {
	AppMessageID     string
	SenderID         string
	OrganizationCode string
	Delta            string
	Offset           int64 // OffsetUnknown 表示未声明
	Status           model.StreamStatus
}

// Begin 注册新流. 调用方已经建好消息壳与发件方 seq.
func (a *Assembler) Begin(ctx context.Context, e *model.StreamCacheEntry) error {
	unlock, err := a.locker.Lock(ctx, e.AppMessageID)
	if err != nil {
		return err
	}
	defer unlock()

	old, err := a.cache.Get(ctx, e.AppMessageID)
	if err != nil {
		return err
	}
	if old != nil {
		// Start 重复到达,保留已有累积
		return nil
	}
	e.Status = model.StreamStatusStart
	e.LastOffset = 0
	e.LastDelta = e.Content
	e.LastActiveMS = time.Now().UnixMilli()
	return a.cache.Put(ctx, e)
}

// Apply 合入一个分片,返回合入后的累积状态与是否已终结.
// 未知的 app_message_id(从未 Start,或已 End 销毁)报 MessageNotFound;
// 不是流归属者的分片报 AuthorizationDenied,不碰累积内容.
func (a *Assembler) Apply(ctx context.Context, chunk *Chunk) (*model.StreamCacheEntry, bool, error) {
	unlock, err := a.locker.Lock(ctx, chunk.AppMessageID)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	e, err := a.cache.Get(ctx, chunk.AppMessageID)
	if err != nil {
		return nil, false, err
	}
	if e == nil {
		return nil, false, errs.ErrMessageNotFound.WrapMsg("stream not active", "app_message_id", chunk.AppMessageID)
	}
	if chunk.SenderID != e.SenderID || chunk.OrganizationCode != e.OrganizationCode {
		return nil, false, errs.ErrAuthorizationDenied.WrapMsg("stream owned by someone else",
			"app_message_id", chunk.AppMessageID)
	}

	mergeChunk(e, chunk)
	e.LastActiveMS = time.Now().UnixMilli()

	if chunk.Status == model.StreamStatusEnd {
		e.Status = model.StreamStatusEnd
		if err := a.finalize(ctx, e); err != nil {
			return nil, false, err
		}
		return e, true, nil
	}

	e.Status = model.StreamStatusAppending
	if err := a.cache.Put(ctx, e); err != nil {
		return nil, false, err
	}
	return e, false, nil
}

// mergeChunk 按 last-write-wins 合入,容忍重投递.
// 带 offset 的分片写进自己声明的区间,重放落回原区间不会翻倍;
// 不带 offset 的分片按到达序追加,与最近一个分片完全一致的判为重放丢弃.
func mergeChunk(e *model.StreamCacheEntry, c *Chunk) {
	switch {
	case c.Offset >= 0 && c.Offset < int64(len(e.Content)):
		e.LastOffset = c.Offset
		e.Content = e.Content[:c.Offset] + c.Delta
	case c.Offset >= 0:
		e.LastOffset = int64(len(e.Content))
		e.Content += c.Delta
	case c.Delta == e.LastDelta && e.LastOffset+int64(len(c.Delta)) == int64(len(e.Content)):
		// 重放,内容已在累积末尾
	default:
		e.LastOffset = int64(len(e.Content))
		e.Content += c.Delta
	}
	e.LastDelta = c.Delta
}

// FinalizeStale 收割僵死流,按隐式 End 处理已累积的内容.
func (a *Assembler) FinalizeStale(ctx context.Context, appMessageID string) error {
	unlock, err := a.locker.Lock(ctx, appMessageID)
	if err != nil {
		return err
	}
	defer unlock()

	e, err := a.cache.Get(ctx, appMessageID)
	if err != nil || e == nil {
		return err
	}
	e.Status = model.StreamStatusEnd
	logger.Warn("force-finalizing stale stream", zap.String("app_message_id", appMessageID))
	return a.finalize(ctx, e)
}

// finalize 完整内容落库: 消息本体 + 引用它的所有 seq 副本,最后清缓存.
// 三步幂等,崩溃后重放安全.
func (a *Assembler) finalize(ctx context.Context, e *model.StreamCacheEntry) error {
	content, err := model.EncodeContent(&model.TextContent{
		Content: e.Content,
		StreamOptions: &model.StreamOptions{
			Stream: true,
			Status: model.StreamStatusEnd,
		},
	})
	if err != nil {
		return err
	}
	now := time.Now()
	if err := a.messages.UpdateContent(ctx, e.MagicMessageID, content, now); err != nil {
		return err
	}
	if err := a.seqs.UpdateContentByMagicID(ctx, e.MagicMessageID, content); err != nil {
		return err
	}
	return a.cache.Delete(ctx, e.AppMessageID)
}
