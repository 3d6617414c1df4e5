package api

import (
	"encoding/json"

	"MagicChat/module/chat/model"
	"MagicChat/module/chat/stream"
	"MagicChat/tools/errs"
)

// SendMessageBody 发送消息请求体. content 是裸 JSON 对象,
// 按 message_type 解成具体内容结构.
type SendMessageBody struct {
	ConversationID          string          `json:"conversation_id"`
	ReceiveID               string          `json:"receive_id"`
	ReceiveType             int32           `json:"receive_type"`
	ReceiveOrganizationCode string          `json:"receive_organization_code"`
	AppMessageID            string          `json:"app_message_id"`
	TopicID                 string          `json:"topic_id"`
	AnchorMessageID         string          `json:"anchor_message_id"`
	ReferMessageID          string          `json:"refer_message_id"`
	MessageType             string          `json:"message_type"`
	Content                 json.RawMessage `json:"content"`
}

func (b *SendMessageBody) DecodeContent() (model.MessageContent, error) {
	if len(b.Content) == 0 {
		return nil, errs.ErrMessageTypeError.WrapMsg("empty content")
	}
	return model.DecodeContent(model.MessageType(b.MessageType), string(b.Content))
}

// Anchor 话题锚点. 来源协议用 "0" 表示无锚点,进门归一成空串,
// 不让哨兵值漏进话题表.
func (b *SendMessageBody) Anchor() string {
	if b.AnchorMessageID == "0" {
		return ""
	}
	return b.AnchorMessageID
}

// StreamChunkBody 流式分片请求体. offset 是分片起始位置,可不带.
type StreamChunkBody struct {
	SendMessageBody
	Delta  string `json:"delta"`
	Offset *int64 `json:"offset"`
	Status int32  `json:"status"` // Start=1 Appending=2 End=3
}

// ChunkOffset 未声明 offset 时返回 stream.OffsetUnknown
func (b *StreamChunkBody) ChunkOffset() int64 {
	if b.Offset == nil {
		return stream.OffsetUnknown
	}
	return *b.Offset
}

// EditMessageBody 编辑请求体
type EditMessageBody struct {
	ConversationID string          `json:"conversation_id"`
	MagicMessageID string          `json:"magic_message_id"`
	MessageType    string          `json:"message_type"`
	Content        json.RawMessage `json:"content"`
}

func (b *EditMessageBody) DecodeContent() (model.MessageContent, error) {
	if len(b.Content) == 0 {
		return nil, errs.ErrMessageTypeError.WrapMsg("empty content")
	}
	return model.DecodeContent(model.MessageType(b.MessageType), string(b.Content))
}

// MarkStatusBody 回执请求体
type MarkStatusBody struct {
	SeqRowIDs []string `json:"seq_row_ids"`
	Status    int32    `json:"status"` // Unread=1 Seen=2 Read=3
}
