package dispatcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"MagicChat/logger"
	"MagicChat/module/chat/model"
	"MagicChat/module/chat/repo"
	"MagicChat/tools/safe"
)

// Poller 把 outbox 里的待发意图搬上队列. 入队成功才标记 Sent,
// 崩在中间会重复入队,幂等性由消费侧的唯一索引兜底.
type Poller struct {
	outbox   repo.OutboxRepo
	queue    Queue
	interval time.Duration
	batch    int
	stop     chan struct{}
}

func NewPoller(outbox repo.OutboxRepo, queue Queue) *Poller {
	return &Poller{
		outbox:   outbox,
		queue:    queue,
		interval: 200 * time.Millisecond,
		batch:    200,
		stop:     make(chan struct{}),
	}
}

func (p *Poller) Start() {
	safe.Go(func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				p.Drain(context.Background())
			}
		}
	})
}

func (p *Poller) Stop() {
	close(p.stop)
}

// Drain 搬一批. 导出给测试做同步驱动.
func (p *Poller) Drain(ctx context.Context) {
	rows, err := p.outbox.PollPending(ctx, p.batch)
	if err != nil {
		logger.Error("outbox poll failed", zap.Error(err))
		return
	}
	for _, row := range rows {
		ev := eventFromOutbox(row)
		if err := p.queue.Enqueue(ctx, ev); err != nil {
			logger.Error("outbox enqueue failed", zap.String("id", row.ID), zap.Error(err))
			continue
		}
		if err := p.outbox.MarkSent(ctx, row.ID); err != nil {
			logger.Error("outbox mark sent failed", zap.String("id", row.ID), zap.Error(err))
		}
	}
}

func eventFromOutbox(row *model.DispatchOutbox) *Event {
	return &Event{
		ID:               row.ID,
		OrganizationCode: row.OrganizationCode,
		SenderSeqID:      row.SenderSeqID,
		ConversationID:   row.ConversationID,
		ReceiveType:      row.ReceiveType,
		Priority:         row.Priority,
	}
}
