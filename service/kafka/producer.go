package kafka

import (
	"fmt"

	"github.com/Shopify/sarama"
)

// DispatchTopics 按优先级档生成 topic: chat.dispatch.p1 .. pN
func DispatchTopics() []string {
	out := make([]string, 0, Cfg.TopicCount)
	for i := 1; i <= Cfg.TopicCount; i++ {
		out = append(out, fmt.Sprintf(Cfg.TopicPattern, i))
	}
	return out
}

// TopicForPriority 优先级越界就落到最低档
func TopicForPriority(p int32) string {
	if p < 1 {
		p = 1
	}
	if int(p) > Cfg.TopicCount {
		p = int32(Cfg.TopicCount)
	}
	return fmt.Sprintf(Cfg.TopicPattern, p)
}

// SendSync key 决定分区,同一 key 的事件在分区内保序.
func SendSync(topic, key string, value []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	_, _, err := SyncProd.SendMessage(msg)
	return err
}
