package repo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"MagicChat/module/chat/model"
	"MagicChat/tools/errs"
)

// MongoConversations 会话仓储的 mongo 实现
type MongoConversations struct{}

func NewMongoConversations() MongoConversations { return MongoConversations{} }

// Create 借 (user_id, receive_id) 唯一索引做幂等:
// upsert 只在首次插入时落字段,之后返回已有记录.
func (MongoConversations) Create(ctx context.Context, c *model.Conversation) (*model.Conversation, error) {
	filter := bson.M{
		model.ConversationFieldUserID:    c.UserID,
		model.ConversationFieldReceiveID: c.ReceiveID,
	}
	update := bson.M{
		"$setOnInsert": bson.M{
			model.ConversationFieldID:          c.ID,
			model.ConversationFieldReceiveType: c.ReceiveType,
			model.ConversationFieldUserOrg:     c.UserOrganizationCode,
			model.ConversationFieldReceiveOrg:  c.ReceiveOrganizationCode,
			model.ConversationFieldStatus:      c.Status,
			model.ConversationFieldCreatedAt:   c.CreatedAt,
			model.ConversationFieldUpdatedAt:   c.UpdatedAt,
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var out model.Conversation
	err := c.Collection().FindOneAndUpdate(ctx, filter, update, opts).Decode(&out)
	if err != nil {
		return nil, errs.WrapMsg(err, "upsert conversation")
	}
	return &out, nil
}

func (MongoConversations) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	var out model.Conversation
	err := (&model.Conversation{}).Collection().
		FindOne(ctx, bson.M{model.ConversationFieldID: id}).Decode(&out)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find conversation")
	}
	return &out, nil
}

func (MongoConversations) GetByUserAndReceive(ctx context.Context, userID, receiveID string) (*model.Conversation, error) {
	var out model.Conversation
	err := (&model.Conversation{}).Collection().FindOne(ctx, bson.M{
		model.ConversationFieldUserID:    userID,
		model.ConversationFieldReceiveID: receiveID,
	}).Decode(&out)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find conversation by pair")
	}
	return &out, nil
}

// MongoTopics 话题仓储的 mongo 实现
type MongoTopics struct{}

func NewMongoTopics() MongoTopics { return MongoTopics{} }

func (MongoTopics) Create(ctx context.Context, t *model.Topic) error {
	_, err := t.Collection().InsertOne(ctx, t)
	if err != nil {
		return errs.WrapMsg(err, "insert topic")
	}
	return nil
}

func (MongoTopics) GetByAnchor(ctx context.Context, conversationID, anchorMessageID string) (*model.Topic, error) {
	opts := options.FindOne().SetSort(bson.M{model.TopicFieldCreatedAt: -1})
	var out model.Topic
	err := (&model.Topic{}).Collection().FindOne(ctx, bson.M{
		model.TopicFieldConversationID:  conversationID,
		model.TopicFieldAnchorMessageID: anchorMessageID,
	}, opts).Decode(&out)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find topic by anchor")
	}
	return &out, nil
}

func (MongoTopics) LatestByConversation(ctx context.Context, conversationID string) (*model.Topic, error) {
	opts := options.FindOne().SetSort(bson.M{model.TopicFieldCreatedAt: -1})
	var out model.Topic
	err := (&model.Topic{}).Collection().FindOne(ctx, bson.M{
		model.TopicFieldConversationID: conversationID,
	}, opts).Decode(&out)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find latest topic")
	}
	return &out, nil
}

// MongoOutbox 扇出意图仓储的 mongo 实现
type MongoOutbox struct{}

func NewMongoOutbox() MongoOutbox { return MongoOutbox{} }

func (MongoOutbox) Append(ctx context.Context, o *model.DispatchOutbox) error {
	_, err := o.Collection().InsertOne(ctx, o)
	if err != nil {
		return errs.WrapMsg(err, "insert outbox")
	}
	return nil
}

func (MongoOutbox) PollPending(ctx context.Context, limit int) ([]*model.DispatchOutbox, error) {
	opts := options.Find().
		SetSort(bson.M{model.OutboxFieldCreatedAt: 1}).
		SetLimit(int64(limit))
	cur, err := (&model.DispatchOutbox{}).Collection().
		Find(ctx, bson.M{model.OutboxFieldState: model.OutboxStatePending}, opts)
	if err != nil {
		return nil, errs.WrapMsg(err, "poll outbox")
	}
	defer cur.Close(ctx)

	var out []*model.DispatchOutbox
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.WrapMsg(err, "decode outbox batch")
	}
	return out, nil
}

func (MongoOutbox) MarkSent(ctx context.Context, id string) error {
	now := time.Now()
	_, err := (&model.DispatchOutbox{}).Collection().UpdateOne(ctx,
		bson.M{model.OutboxFieldID: id},
		bson.M{"$set": bson.M{
			model.OutboxFieldState:  model.OutboxStateSent,
			model.OutboxFieldSentAt: now,
		}})
	if err != nil {
		return errs.WrapMsg(err, "mark outbox sent")
	}
	return nil
}

// MongoGroupMembers 群成员只读仓储的 mongo 实现
type MongoGroupMembers struct{}

func NewMongoGroupMembers() MongoGroupMembers { return MongoGroupMembers{} }

func (MongoGroupMembers) ListActiveMembers(ctx context.Context, groupID string) ([]GroupMember, error) {
	cur, err := (&model.GroupUser{}).Collection().Find(ctx, bson.M{
		model.GroupUserFieldGroupID: groupID,
		model.GroupUserFieldStatus:  model.GroupUserStatusNormal,
	})
	if err != nil {
		return nil, errs.WrapMsg(err, "list group members")
	}
	defer cur.Close(ctx)

	var rows []*model.GroupUser
	if err := cur.All(ctx, &rows); err != nil {
		return nil, errs.WrapMsg(err, "decode group members")
	}
	out := make([]GroupMember, 0, len(rows))
	for _, gu := range rows {
		out = append(out, GroupMember{
			UserID:           gu.UserID,
			OrganizationCode: gu.OrganizationCode,
			Muted:            gu.Muted,
		})
	}
	return out, nil
}
