// Package dispatcher 扇出分发队列.
// 发件事务提交时只写 outbox 意图,poller 把意图搬上队列,
// 消费端执行写扩散. 队列按优先级分流,事件至少投递一次.
package dispatcher

import (
	"context"
	"encoding/json"

	"MagicChat/module/chat/model"
)

// Event 一次扇出意图. ID 即 outbox 行 ID,天然幂等键.
type Event struct {
	ID               string                 `json:"id"`
	OrganizationCode string                 `json:"organization_code"`
	SenderSeqID      string                 `json:"sender_seq_id"`
	ConversationID   string                 `json:"conversation_id"`
	ReceiveType      model.ConversationType `json:"receive_type"`
	Priority         int32                  `json:"priority"`
	Attempt          int                    `json:"attempt"`
}

func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Queue 分发队列的生产侧
type Queue interface {
	Enqueue(ctx context.Context, ev *Event) error
}
