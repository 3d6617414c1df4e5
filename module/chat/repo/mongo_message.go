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

// MongoMessages 消息仓储的 mongo 实现
type MongoMessages struct{}

func NewMongoMessages() MongoMessages { return MongoMessages{} }

func (MongoMessages) Create(ctx context.Context, m *model.Message) error {
	_, err := m.Collection().InsertOne(ctx, m)
	if err != nil {
		return errs.WrapMsg(err, "insert message")
	}
	return nil
}

func (MongoMessages) GetByMagicMessageID(ctx context.Context, magicMessageID string) (*model.Message, error) {
	var out model.Message
	err := (&model.Message{}).Collection().
		FindOne(ctx, bson.M{model.MessageFieldMagicMessageID: magicMessageID}).Decode(&out)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find message")
	}
	return &out, nil
}

func (MongoMessages) GetByMagicMessageIDs(ctx context.Context, ids []string) (map[string]*model.Message, error) {
	if len(ids) == 0 {
		return map[string]*model.Message{}, nil
	}
	cur, err := (&model.Message{}).Collection().
		Find(ctx, bson.M{model.MessageFieldMagicMessageID: bson.M{"$in": ids}})
	if err != nil {
		return nil, errs.WrapMsg(err, "find messages")
	}
	defer cur.Close(ctx)

	var rows []*model.Message
	if err := cur.All(ctx, &rows); err != nil {
		return nil, errs.WrapMsg(err, "decode messages")
	}
	out := make(map[string]*model.Message, len(rows))
	for _, m := range rows {
		out[m.MagicMessageID] = m
	}
	return out, nil
}

func (MongoMessages) GetByAppMessageID(ctx context.Context, senderID, appMessageID string) (*model.Message, error) {
	var out model.Message
	err := (&model.Message{}).Collection().FindOne(ctx, bson.M{
		model.MessageFieldSenderID:     senderID,
		model.MessageFieldAppMessageID: appMessageID,
	}).Decode(&out)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find message by app id")
	}
	return &out, nil
}

// AppendVersion 追加版本并移动 current_version_id 指针. 历史版本永不覆盖.
func (MongoMessages) AppendVersion(ctx context.Context, v *model.MessageVersion) error {
	if _, err := v.Collection().InsertOne(ctx, v); err != nil {
		return errs.WrapMsg(err, "insert message version")
	}
	_, err := (&model.Message{}).Collection().UpdateOne(ctx,
		bson.M{model.MessageFieldMagicMessageID: v.MagicMessageID},
		bson.M{"$set": bson.M{
			model.MessageFieldCurrentVersionID: v.VersionID,
			model.MessageFieldUpdatedAt:        time.Now(),
		}})
	if err != nil {
		return errs.WrapMsg(err, "move version pointer")
	}
	return nil
}

func (MongoMessages) ListVersions(ctx context.Context, magicMessageID string) ([]*model.MessageVersion, error) {
	opts := options.Find().SetSort(bson.M{model.MessageVersionFieldVersionID: 1})
	cur, err := (&model.MessageVersion{}).Collection().
		Find(ctx, bson.M{model.MessageVersionFieldMagicMessageID: magicMessageID}, opts)
	if err != nil {
		return nil, errs.WrapMsg(err, "find versions")
	}
	defer cur.Close(ctx)

	var out []*model.MessageVersion
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.WrapMsg(err, "decode versions")
	}
	return out, nil
}

func (MongoMessages) UpdateContent(ctx context.Context, magicMessageID, content string, sendTime time.Time) error {
	_, err := (&model.Message{}).Collection().UpdateOne(ctx,
		bson.M{model.MessageFieldMagicMessageID: magicMessageID},
		bson.M{"$set": bson.M{
			model.MessageFieldContent:   content,
			model.MessageFieldSendTime:  sendTime,
			model.MessageFieldUpdatedAt: time.Now(),
		}})
	if err != nil {
		return errs.WrapMsg(err, "update message content")
	}
	return nil
}
