package kafka

import (
	"context"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"

	"MagicChat/logger"
	"MagicChat/tools/safe"
)

type ConsumerGroupHandler struct{}

func (h *ConsumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	logger.Info("consumer group setup")
	return nil
}

func (h *ConsumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	logger.Info("consumer group cleanup")
	return nil
}

func (h *ConsumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		handler, err := GetHandler(msg.Topic)
		if err != nil {
			logger.Error("no handler for topic", zap.String("topic", msg.Topic), zap.Error(err))
		} else if err := handler(msg.Topic, msg.Key, msg.Value); err != nil {
			logger.Error("handler error",
				zap.String("topic", msg.Topic),
				zap.Int32("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
		// 处理失败也推进 offset: 重试语义在 handler 内部完成,
		// 卡住分区比丢一条更糟.
		session.MarkMessage(msg, "")
	}
	return nil
}

// StartConsumerGroup 起消费组并阻塞到 ctx 取消. rebalance 后自动重入.
func StartConsumerGroup(ctx context.Context, brokers []string, groupID string, topics []string) error {
	cfg := BuildBaseConfig()
	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return err
	}
	defer group.Close()

	safe.Go(func() {
		for err := range group.Errors() {
			logger.Error("consumer group error", zap.Error(err))
		}
	})

	handler := &ConsumerGroupHandler{}
	for {
		if err := group.Consume(ctx, topics, handler); err != nil {
			logger.Error("consume error", zap.Error(err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
