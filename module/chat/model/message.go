package model

import (
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"MagicChat/service/mgo"
)

// Message 消息本体,收发双方的 seq 通过 magic_message_id 共享同一份内容.
// 内容一经写入不再修改:编辑走 MessageVersion 追加 + current_version_id 指针.
type Message struct {
	MagicMessageID          string           `bson:"_id" json:"magic_message_id"`              // 全局消息ID
	AppMessageID            string           `bson:"app_message_id" json:"app_message_id"` // 客户端生成的防重ID
	SenderID                string           `bson:"sender_id" json:"sender_id"`
	SenderType              ConversationType `bson:"sender_type" json:"sender_type"`
	SenderOrganizationCode  string           `bson:"sender_organization_code" json:"sender_organization_code"`
	ReceiveID               string           `bson:"receive_id" json:"receive_id"`
	ReceiveType             ConversationType `bson:"receive_type" json:"receive_type"`
	ReceiveOrganizationCode string           `bson:"receive_organization_code" json:"receive_organization_code"`
	MessageType             MessageType      `bson:"message_type" json:"message_type"`
	Content                 string           `bson:"content" json:"content"` // 序列化后的消息内容
	CurrentVersionID        string           `bson:"current_version_id,omitempty" json:"current_version_id,omitempty"`
	SendTime                time.Time        `bson:"send_time" json:"send_time"`
	CreatedAt               time.Time        `bson:"created_at" json:"created_at"`
	UpdatedAt               time.Time        `bson:"updated_at" json:"updated_at"`
}

const (
	MessageFieldMagicMessageID   = "_id"
	MessageFieldAppMessageID     = "app_message_id"
	MessageFieldSenderID         = "sender_id"
	MessageFieldSenderType       = "sender_type"
	MessageFieldContent          = "content"
	MessageFieldMessageType      = "message_type"
	MessageFieldCurrentVersionID = "current_version_id"
	MessageFieldSendTime         = "send_time"
	MessageFieldUpdatedAt        = "updated_at"
)

func (m *Message) GetTableName() string {
	return "message"
}

func (m *Message) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(m.GetTableName())
}

// MessageVersion 编辑消息时追加的版本记录,审计用,不覆盖原文.
type MessageVersion struct {
	VersionID      string      `bson:"_id"`
	MagicMessageID string      `bson:"magic_message_id"`
	MessageType    MessageType `bson:"message_type"`
	Content        string      `bson:"content"`
	CreatedAt      time.Time   `bson:"created_at"`
}

const (
	MessageVersionFieldVersionID      = "_id"
	MessageVersionFieldMagicMessageID = "magic_message_id"
)

func (v *MessageVersion) GetTableName() string {
	return "message_version"
}

func (v *MessageVersion) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(v.GetTableName())
}
