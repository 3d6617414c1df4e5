package model

// StreamCacheEntry 在途流式消息的累积状态,按 app_message_id 维度缓存.
// Start 时建好消息壳与发件方 seq,End 落库后整条缓存销毁.
type StreamCacheEntry struct {
	AppMessageID     string       `json:"app_message_id"`
	MagicMessageID   string       `json:"magic_message_id"`
	SenderMessageID  string       `json:"sender_message_id"` // Start 时创建的发件方 seq 的 message_id
	SenderID         string       `json:"sender_id"`         // 流的归属,后续分片必须同一发送者
	OrganizationCode string       `json:"organization_code"`
	Content          string       `json:"content"` // 已累积的文本
	Status           StreamStatus `json:"status"`
	LastOffset       int64        `json:"last_offset"` // 最近一个分片的起始位置,重投递判定用
	LastDelta        string       `json:"last_delta"`  // 最近一个分片原文
	LastActiveMS     int64        `json:"last_active_ms"`
}
