package model

import (
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"MagicChat/service/mgo"
)

// GroupUserStatus 群成员状态
type GroupUserStatus int32

const (
	GroupUserStatusNormal  GroupUserStatus = 1 // 正常
	GroupUserStatusRemoved GroupUserStatus = 2 // 已被移出
)

// GroupUser 群成员关系. 成员管理归群模块,扇出只读这张表.
type GroupUser struct {
	ID               string          `bson:"_id" json:"id"`
	GroupID          string          `bson:"group_id" json:"group_id"`
	UserID           string          `bson:"user_id" json:"user_id"`
	OrganizationCode string          `bson:"organization_code" json:"organization_code"`
	Status           GroupUserStatus `bson:"status" json:"status"`
	Muted            bool            `bson:"muted" json:"muted"` // 免打扰: 写扩散但不在线推送
	CreatedAt        time.Time       `bson:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `bson:"updated_at" json:"updated_at"`
}

const (
	GroupUserFieldID      = "_id"
	GroupUserFieldGroupID = "group_id"
	GroupUserFieldUserID  = "user_id"
	GroupUserFieldOrg     = "organization_code"
	GroupUserFieldStatus  = "status"
	GroupUserFieldMuted   = "muted"
)

func (g *GroupUser) GetTableName() string {
	return "group_member"
}

func (g *GroupUser) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(g.GetTableName())
}
