package model

import (
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"MagicChat/service/mgo"
)

// OutboxState 扇出意图的投递状态
type OutboxState int32

const (
	OutboxStatePending OutboxState = 0
	OutboxStateSent    OutboxState = 1
)

// DispatchOutbox 扇出意图表(transactional outbox).
// 与发件方 seq 一起落库,由 poller 扫描后投递到队列,
// 规避"入队跑在落库可见性前面"的竞态.
type DispatchOutbox struct {
	ID               string           `bson:"_id"`
	OrganizationCode string           `bson:"organization_code"`
	SenderSeqID      string           `bson:"sender_seq_id"` // 发件方主 seq 的行ID
	ConversationID   string           `bson:"conversation_id"`
	ReceiveType      ConversationType `bson:"receive_type"`
	Priority         int32            `bson:"priority"`
	State            OutboxState      `bson:"state"`
	CreatedAt        time.Time        `bson:"created_at"`
	SentAt           *time.Time       `bson:"sent_at,omitempty"`
}

const (
	OutboxFieldID        = "_id"
	OutboxFieldState     = "state"
	OutboxFieldCreatedAt = "created_at"
	OutboxFieldSentAt    = "sent_at"
)

func (o *DispatchOutbox) GetTableName() string {
	return "dispatch_outbox"
}

func (o *DispatchOutbox) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(o.GetTableName())
}
