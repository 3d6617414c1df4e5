package model

import (
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"MagicChat/service/mgo"
)

// Topic 会话内的子话题. AI 私聊的消息必须归属某个话题.
// AnchorMessageID 为空表示话题不锚定任何一条消息(首次接触自动建话题的场景).
type Topic struct {
	ID               string    `bson:"_id"`
	ConversationID   string    `bson:"conversation_id"`
	OrganizationCode string    `bson:"organization_code"`
	Name             string    `bson:"name"`
	AnchorMessageID  string    `bson:"anchor_message_id,omitempty"`
	CreatedAt        time.Time `bson:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at"`
}

const (
	TopicFieldID              = "_id"
	TopicFieldConversationID  = "conversation_id"
	TopicFieldOrganization    = "organization_code"
	TopicFieldAnchorMessageID = "anchor_message_id"
	TopicFieldCreatedAt       = "created_at"
)

func (t *Topic) GetTableName() string {
	return "topic"
}

func (t *Topic) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(t.GetTableName())
}
