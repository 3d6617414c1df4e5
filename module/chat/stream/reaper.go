package stream

import (
	"context"
	"time"

	"go.uber.org/zap"

	"MagicChat/logger"
	"MagicChat/tools/safe"
)

// Reaper 周期性扫描长时间无分片到达的流,按隐式 End 强制终结,
// 保证接收方最终能拿到已累积的内容而不是一条永远转圈的消息.
type Reaper struct {
	cache     Cache
	assembler *Assembler
	staleTTL  time.Duration
	interval  time.Duration
	batch     int
	stop      chan struct{}
}

func NewReaper(cache Cache, assembler *Assembler) *Reaper {
	return &Reaper{
		cache:     cache,
		assembler: assembler,
		staleTTL:  30 * time.Second,
		interval:  10 * time.Second,
		batch:     100,
		stop:      make(chan struct{}),
	}
}

func (r *Reaper) Start() {
	safe.Go(func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				r.sweep(context.Background())
			}
		}
	})
}

func (r *Reaper) Stop() {
	close(r.stop)
}

func (r *Reaper) sweep(ctx context.Context) {
	before := time.Now().Add(-r.staleTTL).UnixMilli()
	entries, err := r.cache.Stale(ctx, before, r.batch)
	if err != nil {
		logger.Error("stale stream scan failed", zap.Error(err))
		return
	}
	for _, e := range entries {
		if err := r.assembler.FinalizeStale(ctx, e.AppMessageID); err != nil {
			logger.Error("stale stream finalize failed",
				zap.String("app_message_id", e.AppMessageID), zap.Error(err))
		}
	}
}
