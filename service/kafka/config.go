package kafka

import "github.com/Shopify/sarama"

// In-code 配置(不读 YAML)
type AppConfig struct {
	Brokers               []string
	GroupID               string
	TopicPattern          string // 例如 "chat.dispatch.p%d"
	TopicCount            int    // 优先级档数
	PartitionsPerTopic    int32  // 单机演示: 8;生产: 按扇出吞吐扩
	ReplicationFactor     int16  // 单机=1;生产=3
	ProducerRetries       int
	ProducerCompression   string // none/snappy/lz4/zstd
	ConsumerInitialOffset string // newest/oldest
	KafkaVersion          sarama.KafkaVersion
}

// 默认配置(可直接改)
var Cfg = AppConfig{
	Brokers:               []string{"127.0.0.1:9092"},
	GroupID:               "chat-dispatch-consumer-1",
	TopicPattern:          "chat.dispatch.p%d",
	TopicCount:            4, // 对应 4 个优先级档
	PartitionsPerTopic:    8,
	ReplicationFactor:     1,
	ProducerRetries:       5,
	ProducerCompression:   "snappy",
	ConsumerInitialOffset: "oldest", // 扇出意图不能丢
	KafkaVersion:          sarama.V2_1_0_0,
}
