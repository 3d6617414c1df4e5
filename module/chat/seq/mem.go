package seq

import (
	"context"
	"sync"

	"MagicChat/module/chat/model"
)

// MemAllocator 进程内分配器,测试与单机体验用.
type MemAllocator struct {
	mu   sync.Mutex
	next map[model.InboxKey]int64
}

func NewMemAllocator() *MemAllocator {
	return &MemAllocator{next: make(map[model.InboxKey]int64)}
}

func (a *MemAllocator) Next(ctx context.Context, key model.InboxKey) (int64, error) {
	return a.NextN(ctx, key, 1)
}

func (a *MemAllocator) NextN(ctx context.Context, key model.InboxKey, n int) (int64, error) {
	if n <= 0 {
		n = 1
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	first := a.next[key] + 1
	a.next[key] += int64(n)
	return first, nil
}

func (a *MemAllocator) Reconcile(ctx context.Context, key model.InboxKey, storeMax int64) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.next[key] < storeMax {
		a.next[key] = storeMax
	}
	a.next[key]++
	return a.next[key], nil
}

// Rewind 测试辅助: 把分配器视角拉回到指定号,模拟缓存丢失/落后.
func (a *MemAllocator) Rewind(key model.InboxKey, to int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next[key] = to
}
