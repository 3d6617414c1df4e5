package repo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"MagicChat/logger"
	"MagicChat/module/chat/model"
	"MagicChat/tools/errs"
)

// EnsureIndexes 启动时建索引. 两条唯一索引是正确性的一部分:
// (org, object_type, object_id, seq_id) 挡并发分号冲突,
// (object_id, sender_message_id) 挡重复投递下的收件副本.
func EnsureIndexes(ctx context.Context) error {
	type idxSpec struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}
	specs := []idxSpec{
		{
			coll: (&model.Conversation{}).Collection(),
			models: []mongo.IndexModel{
				{
					Keys: bson.D{
						{Key: model.ConversationFieldUserID, Value: 1},
						{Key: model.ConversationFieldReceiveID, Value: 1},
					},
					Options: options.Index().SetUnique(true),
				},
			},
		},
		{
			coll: (&model.Seq{}).Collection(),
			models: []mongo.IndexModel{
				{
					Keys: bson.D{
						{Key: model.SeqFieldOrganizationCode, Value: 1},
						{Key: model.SeqFieldObjectType, Value: 1},
						{Key: model.SeqFieldObjectID, Value: 1},
						{Key: model.SeqFieldSeqID, Value: 1},
					},
					Options: options.Index().SetUnique(true),
				},
				{
					Keys: bson.D{
						{Key: model.SeqFieldObjectID, Value: 1},
						{Key: model.SeqFieldSenderMessageID, Value: 1},
					},
					Options: options.Index().
						SetUnique(true).
						SetPartialFilterExpression(bson.M{
							model.SeqFieldSenderMessageID: bson.M{"$gt": ""},
						}),
				},
				{
					Keys: bson.D{{Key: model.SeqFieldMessageID, Value: 1}},
				},
				{
					Keys: bson.D{
						{Key: model.SeqFieldConversationID, Value: 1},
						{Key: model.SeqFieldSeqID, Value: 1},
					},
				},
			},
		},
		{
			coll: (&model.Message{}).Collection(),
			models: []mongo.IndexModel{
				{
					Keys: bson.D{
						{Key: model.MessageFieldSenderID, Value: 1},
						{Key: model.MessageFieldAppMessageID, Value: 1},
					},
				},
			},
		},
		{
			coll: (&model.MessageVersion{}).Collection(),
			models: []mongo.IndexModel{
				{
					Keys: bson.D{{Key: model.MessageVersionFieldMagicMessageID, Value: 1}},
				},
			},
		},
		{
			coll: (&model.Topic{}).Collection(),
			models: []mongo.IndexModel{
				{
					Keys: bson.D{
						{Key: model.TopicFieldConversationID, Value: 1},
						{Key: model.TopicFieldAnchorMessageID, Value: 1},
					},
				},
			},
		},
		{
			coll: (&model.DispatchOutbox{}).Collection(),
			models: []mongo.IndexModel{
				{
					Keys: bson.D{
						{Key: model.OutboxFieldState, Value: 1},
						{Key: model.OutboxFieldCreatedAt, Value: 1},
					},
				},
			},
		},
		{
			coll: (&model.GroupUser{}).Collection(),
			models: []mongo.IndexModel{
				{
					Keys: bson.D{
						{Key: model.GroupUserFieldGroupID, Value: 1},
						{Key: model.GroupUserFieldStatus, Value: 1},
					},
				},
			},
		},
	}

	for _, sp := range specs {
		if _, err := sp.coll.Indexes().CreateMany(ctx, sp.models); err != nil {
			return errs.WrapMsg(err, "create indexes", "coll", sp.coll.Name())
		}
		logger.Infof("indexes ready: %s", sp.coll.Name())
	}
	return nil
}
