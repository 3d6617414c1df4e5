package model

import (
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"MagicChat/service/mgo"
)

// Seq 账号收件箱的序列号表. 每个收件箱内 seq_id 必须严格单调递增且不复用;
// 同一 (收件人,事件) 最多产生一条 seq,重放分发必须幂等.
type Seq struct {
	ID               string           `bson:"_id" json:"id"`
	OrganizationCode string           `bson:"organization_code" json:"organization_code"`
	ObjectType       ConversationType `bson:"object_type" json:"object_type"` // 收件箱归属方类型
	ObjectID         string           `bson:"object_id" json:"object_id"`     // 收件箱归属方ID
	SeqID            int64            `bson:"seq_id" json:"seq_id"`
	SeqType          MessageType      `bson:"seq_type" json:"seq_type"`
	Content          string           `bson:"content" json:"content"` // 消息负载或控制事件负载(序列化)
	MagicMessageID   string           `bson:"magic_message_id" json:"magic_message_id"`
	MessageID        string           `bson:"message_id" json:"message_id"`               // 本条 seq 上的消息指针,每条唯一
	ReferMessageID   string           `bson:"refer_message_id" json:"refer_message_id"`   // 回复引用
	SenderMessageID  string           `bson:"sender_message_id" json:"sender_message_id"` // 收件方副本回指发件方 message_id;发件方主 seq 此字段为空
	ConversationID   string           `bson:"conversation_id" json:"conversation_id"`
	Status           SeqStatus        `bson:"status" json:"status"`
	ReceiveList      *ReceiveList     `bson:"receive_list,omitempty" json:"receive_list,omitempty"` // 只在发件方主 seq 上存在
	Extra            *SeqExtra        `bson:"extra,omitempty" json:"extra,omitempty"`
	AppMessageID     string           `bson:"app_message_id" json:"app_message_id"`
	CreatedAt        time.Time        `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `bson:"updated_at" json:"updated_at"`
}

// ReceiveList 群聊/私聊的收件人读取进度,挂在发件方主 seq 上.
// 收件方副本不记录收件人列表.
type ReceiveList struct {
	UnreadList []string `bson:"unread_list" json:"unread_list"`
	SeenList   []string `bson:"seen_list" json:"seen_list"`
	ReadList   []string `bson:"read_list" json:"read_list"`
}

// UnreadCount 没有 receive_list 视为 0 个未读收件人(用于优先级计算)
func (r *ReceiveList) UnreadCount() int {
	if r == nil {
		return 0
	}
	return len(r.UnreadList)
}

// SeqExtra seq 的扩展信息.
type SeqExtra struct {
	TopicID            string              `bson:"topic_id,omitempty" json:"topic_id,omitempty"`
	EditMessageOptions *EditMessageOptions `bson:"edit_message_options,omitempty" json:"edit_message_options,omitempty"`
	MagicEnvID         string              `bson:"magic_env_id,omitempty" json:"magic_env_id,omitempty"`
}

// EditMessageOptions 编辑意图: 目标消息与产生的版本号.
type EditMessageOptions struct {
	MagicMessageID   string `bson:"magic_message_id" json:"magic_message_id"`
	MessageVersionID string `bson:"message_version_id,omitempty" json:"message_version_id,omitempty"`
}

const (
	SeqFieldID               = "_id"
	SeqFieldOrganizationCode = "organization_code"
	SeqFieldObjectType       = "object_type"
	SeqFieldObjectID         = "object_id"
	SeqFieldSeqID            = "seq_id"
	SeqFieldSeqType          = "seq_type"
	SeqFieldContent          = "content"
	SeqFieldMagicMessageID   = "magic_message_id"
	SeqFieldMessageID        = "message_id"
	SeqFieldSenderMessageID  = "sender_message_id"
	SeqFieldConversationID   = "conversation_id"
	SeqFieldStatus           = "status"
	SeqFieldReceiveList      = "receive_list"
	SeqFieldExtra            = "extra"
	SeqFieldAppMessageID     = "app_message_id"
	SeqFieldCreatedAt        = "created_at"
	SeqFieldUpdatedAt        = "updated_at"
)

func (s *Seq) GetTableName() string {
	return "seq"
}

func (s *Seq) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(s.GetTableName())
}

// InboxKey 本条 seq 所在的收件箱
func (s *Seq) InboxKey() InboxKey {
	return InboxKey{
		OrganizationCode: s.OrganizationCode,
		ObjectType:       s.ObjectType,
		ObjectID:         s.ObjectID,
	}
}

// ClientSeq 返回给客户端的投影: seq + 消息本体.
type ClientSeq struct {
	Seq     *Seq     `json:"seq"`
	Message *Message `json:"message,omitempty"`
}
