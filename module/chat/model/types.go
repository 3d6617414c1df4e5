package model

// ConversationType 会话接收方(或消息收发对象)的类型.
type ConversationType int32

const (
	ConversationTypeUser                  ConversationType = 1
	ConversationTypeAi                    ConversationType = 2
	ConversationTypeGroup                 ConversationType = 3
	ConversationTypeSystem                ConversationType = 4
	ConversationTypeCloudDocument         ConversationType = 5
	ConversationTypeMultidimensionalTable ConversationType = 6
	ConversationTypeTopic                 ConversationType = 7
	ConversationTypeApp                   ConversationType = 8
)

// Supported 发消息链路目前只支持 私聊(人/AI) 和 群聊.
// 其余类型必须显式报错,不允许静默丢弃.
func (t ConversationType) Supported() bool {
	switch t {
	case ConversationTypeUser, ConversationTypeAi, ConversationTypeGroup:
		return true
	default:
		return false
	}
}

// ConversationStatus 会话状态
type ConversationStatus int32

const (
	ConversationStatusNormal  ConversationStatus = 1
	ConversationStatusDeleted ConversationStatus = 2
)

// SeqStatus 收件箱内一条 seq 的已读状态.
// Seen 表示已送达客户端(弹过红点), Read 表示用户真正看过.
type SeqStatus int32

const (
	SeqStatusUnread SeqStatus = 1
	SeqStatusSeen   SeqStatus = 2
	SeqStatusRead   SeqStatus = 3
)

// StreamStatus 流式消息的分片状态机: Start -> Appending(0..n) -> End
type StreamStatus int32

const (
	StreamStatusStart     StreamStatus = 1
	StreamStatusAppending StreamStatus = 2
	StreamStatusEnd       StreamStatus = 3
)

// InboxKey 唯一确定一个收件箱. seq_id 在同一个 InboxKey 内严格单调递增.
type InboxKey struct {
	OrganizationCode string
	ObjectType       ConversationType
	ObjectID         string
}
