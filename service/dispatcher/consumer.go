package dispatcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"MagicChat/logger"
	"MagicChat/module/chat/fanout"
	"MagicChat/module/chat/repo"
	"MagicChat/tools/decode"
	"MagicChat/tools/errs"
)

// Consumer 消费扇出意图并驱动写扩散引擎.
// 事件可能在发件事务可见之前到达(主从延迟/重放),
// 查不到主 seq 时退避重查,耗尽次数才算失败.
type Consumer struct {
	seqs        repo.SeqRepo
	engine      *fanout.Engine
	maxAttempts int
	backoff     time.Duration
}

func NewConsumer(seqs repo.SeqRepo, engine *fanout.Engine) *Consumer {
	return &Consumer{
		seqs:        seqs,
		engine:      engine,
		maxAttempts: 3,
		backoff:     200 * time.Millisecond,
	}
}

// Handle kafka handler 签名适配
func (c *Consumer) Handle(topic string, key, value []byte) error {
	ev, err := decode.DecodeJSON[Event](value)
	if err != nil {
		// 坏事件重试也无益,记日志后吞掉
		logger.Error("undecodable dispatch event", zap.String("topic", topic), zap.Error(err))
		return nil
	}
	return c.Process(context.Background(), ev)
}

func (c *Consumer) Process(ctx context.Context, ev *Event) error {
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		senderSeq, err := c.seqs.GetByID(ctx, ev.SenderSeqID)
		if err != nil {
			return err
		}
		if senderSeq == nil {
			if attempt == c.maxAttempts {
				return errs.ErrFanoutPartialFailure.WrapMsg("sender seq never became visible",
					"sender_seq_id", ev.SenderSeqID, "attempts", attempt)
			}
			c.wait(ctx, attempt)
			continue
		}

		err = c.engine.Dispatch(ctx, senderSeq)
		if err == nil {
			return nil
		}
		if attempt == c.maxAttempts {
			return errs.ErrFanoutPartialFailure.WrapMsg("dispatch retries exhausted",
				"sender_seq_id", ev.SenderSeqID, "attempts", attempt)
		}
		logger.Warn("dispatch attempt failed, retrying",
			zap.String("sender_seq_id", ev.SenderSeqID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		c.wait(ctx, attempt)
	}
	return nil
}

// 线性退避
func (c *Consumer) wait(ctx context.Context, attempt int) {
	timer := time.NewTimer(c.backoff * time.Duration(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
