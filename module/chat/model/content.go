package model

import (
	"encoding/json"

	"MagicChat/tools/decode"
	"MagicChat/tools/errs"
)

// MessageType 消息类型,chat 与 control 两个命名空间共用一个字符串枚举.
// type 和 content 组合在一起才是一个可用的消息.
type MessageType string

const (
	// chat 消息
	MessageTypeText  MessageType = "text"
	MessageTypeFiles MessageType = "files"

	// control 消息
	MessageTypeSeenMessages     MessageType = "seen_messages"
	MessageTypeOpenConversation MessageType = "open_conversation"
)

func (t MessageType) IsChat() bool {
	switch t {
	case MessageTypeText, MessageTypeFiles:
		return true
	default:
		return false
	}
}

func (t MessageType) IsControl() bool {
	switch t {
	case MessageTypeSeenMessages, MessageTypeOpenConversation:
		return true
	default:
		return false
	}
}

func (t MessageType) Valid() bool { return t.IsChat() || t.IsControl() }

// MessageContent 消息内容联合体. 序列化/路由边界上做穷举分发,
// 其余地方只面向接口.
type MessageContent interface {
	TypeName() MessageType
}

// StreamOptions 流式消息的标记. Stream=false 时整条消息按普通消息处理.
// Offset 是本分片在整条流里的起始位置,客户端可以不带,带上则重投递零代价去重.
type StreamOptions struct {
	Stream bool         `json:"stream"`
	Status StreamStatus `json:"status"`
	Offset *int64       `json:"offset,omitempty"`
}

// TextContent 文本消息,含流式文本.
type TextContent struct {
	Content       string         `json:"content"`
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`
}

func (*TextContent) TypeName() MessageType { return MessageTypeText }

// IsStream 是否按流式分片处理
func (c *TextContent) IsStream() bool {
	return c.StreamOptions != nil && c.StreamOptions.Stream
}

// Attachment 附件元信息. file_id 必须先通过文件服务的归属校验.
type Attachment struct {
	FileID        string `json:"file_id"`
	FileName      string `json:"file_name"`
	FileExtension string `json:"file_extension"`
	FileSize      int64  `json:"file_size"`
}

// AttachmentContent 带附件的消息
type AttachmentContent struct {
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments"`
}

func (*AttachmentContent) TypeName() MessageType { return MessageTypeFiles }

// ControlContent 控制消息,负载不固定,原样透传给客户端.
type ControlContent struct {
	Kind    MessageType    `json:"kind"`
	Payload map[string]any `json:"payload,omitempty"`
}

func (c *ControlContent) TypeName() MessageType { return c.Kind }

// EncodeContent 序列化消息内容(入库格式)
func EncodeContent(c MessageContent) (string, error) {
	if c == nil {
		return "", errs.New("nil message content")
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return "", errs.WrapMsg(err, "encode content", "type", c.TypeName())
	}
	return string(raw), nil
}

// DecodeContent 按消息类型把序列化内容还原成具体结构.
// 未知类型在这里失败,而不是带病往下走.
func DecodeContent(t MessageType, raw string) (MessageContent, error) {
	switch t {
	case MessageTypeText:
		c, err := decode.DecodeJSON[TextContent]([]byte(raw))
		if err != nil {
			return nil, errs.WrapMsg(err, "decode text content")
		}
		return c, nil
	case MessageTypeFiles:
		c, err := decode.DecodeJSON[AttachmentContent]([]byte(raw))
		if err != nil {
			return nil, errs.WrapMsg(err, "decode attachment content")
		}
		return c, nil
	case MessageTypeSeenMessages, MessageTypeOpenConversation:
		c, err := decode.DecodeJSON[ControlContent]([]byte(raw))
		if err != nil {
			return nil, errs.WrapMsg(err, "decode control content")
		}
		c.Kind = t
		return c, nil
	default:
		return nil, errs.ErrMessageTypeError.WrapMsg("unknown message type", "type", t)
	}
}

// IsStreamContent 判断内容是否是流式分片
func IsStreamContent(c MessageContent) (*TextContent, bool) {
	tc, ok := c.(*TextContent)
	if !ok {
		return nil, false
	}
	return tc, tc.IsStream()
}
