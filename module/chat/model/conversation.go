package model

import (
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"MagicChat/service/mgo"
)

// Conversation 表示 user 实体与某个接收方(人/AI/群)之间的会话窗口.
// 私聊双方各有一条(各自挂自己的话题),会话永远不跨组织.
type Conversation struct {
	ID                       string             `bson:"_id"`
	UserID                   string             `bson:"user_id"`       // 会话归属用户
	ReceiveID                string             `bson:"receive_id"`    // 接收方ID(用户/AI/群)
	ReceiveType              ConversationType   `bson:"receive_type"`  // 接收方类型
	UserOrganizationCode     string             `bson:"user_organization_code"`
	ReceiveOrganizationCode  string             `bson:"receive_organization_code"`
	Status                   ConversationStatus `bson:"status"`
	CreatedAt                time.Time          `bson:"created_at"`
	UpdatedAt                time.Time          `bson:"updated_at"`
}

const (
	ConversationFieldID          = "_id"
	ConversationFieldUserID      = "user_id"
	ConversationFieldReceiveID   = "receive_id"
	ConversationFieldReceiveType = "receive_type"
	ConversationFieldUserOrg     = "user_organization_code"
	ConversationFieldReceiveOrg  = "receive_organization_code"
	ConversationFieldStatus      = "status"
	ConversationFieldCreatedAt   = "created_at"
	ConversationFieldUpdatedAt   = "updated_at"
)

func (c *Conversation) GetTableName() string {
	return "conversation"
}

func (c *Conversation) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(c.GetTableName())
}
