package dispatcher

import (
	"context"

	"MagicChat/service/kafka"
	"MagicChat/tools/errs"
)

// KafkaQueue 优先级映射 topic,会话 ID 做分区键:
// 同一会话的扇出在分区内保序,大群不占小会话的档.
type KafkaQueue struct{}

func NewKafkaQueue() KafkaQueue { return KafkaQueue{} }

func (KafkaQueue) Enqueue(ctx context.Context, ev *Event) error {
	raw, err := ev.Marshal()
	if err != nil {
		return errs.WrapMsg(err, "marshal dispatch event")
	}
	topic := kafka.TopicForPriority(ev.Priority)
	if err := kafka.SendSync(topic, ev.ConversationID, raw); err != nil {
		return errs.WrapMsg(err, "enqueue dispatch event", "topic", topic, "id", ev.ID)
	}
	return nil
}
