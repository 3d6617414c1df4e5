// Package seq 负责收件箱序号分配.
// 每个收件箱 (组织, 对象类型, 对象ID) 一条单调递增整数流,从 1 开始,
// 不跳号不复用. 快路径走 redis INCR,redis 视角落后于库里的最大号时
// 只升不降地矫正,最终一致性由 seq 表的唯一索引兜底.
package seq

import (
	"context"

	"MagicChat/module/chat/model"
)

// Allocator 序号分配器
type Allocator interface {
	// Next 取下一个序号
	Next(ctx context.Context, key model.InboxKey) (int64, error)
	// NextN 一次取 n 个连续序号,返回首号. n <= 0 视为 1.
	NextN(ctx context.Context, key model.InboxKey, n int) (int64, error)
	// Reconcile 以权威存储的最大号矫正分配器视角,只升不降,
	// 返回矫正后的下一个序号. 唯一索引冲突后的重试走这里.
	Reconcile(ctx context.Context, key model.InboxKey, storeMax int64) (int64, error)
}
