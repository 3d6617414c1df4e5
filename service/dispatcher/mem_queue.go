package dispatcher

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"MagicChat/logger"
	"MagicChat/tools/safe"
)

// MemQueue 进程内队列,channel + worker 池. 测试与单机体验用.
// 投递过的事件留档,测试断言优先级与到达情况.
type MemQueue struct {
	ch      chan *Event
	handler func(ctx context.Context, ev *Event) error

	mu   sync.Mutex
	seen []*Event

	wg   sync.WaitGroup
	stop chan struct{}
}

func NewMemQueue(workers, buffer int, handler func(ctx context.Context, ev *Event) error) *MemQueue {
	if workers <= 0 {
		workers = 1
	}
	q := &MemQueue{
		ch:      make(chan *Event, buffer),
		handler: handler,
		stop:    make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		safe.Go(func() {
			defer q.wg.Done()
			q.work()
		})
	}
	return q
}

func (q *MemQueue) work() {
	for {
		select {
		case <-q.stop:
			return
		case ev := <-q.ch:
			if err := q.handler(context.Background(), ev); err != nil {
				logger.Error("dispatch event handler failed",
					zap.String("id", ev.ID), zap.Error(err))
			}
		}
	}
}

func (q *MemQueue) Enqueue(ctx context.Context, ev *Event) error {
	q.mu.Lock()
	cp := *ev
	q.seen = append(q.seen, &cp)
	q.mu.Unlock()

	select {
	case q.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Seen 已入队事件的快照
func (q *MemQueue) Seen() []*Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Event, len(q.seen))
	copy(out, q.seen)
	return out
}

func (q *MemQueue) Close() {
	close(q.stop)
	q.wg.Wait()
}
