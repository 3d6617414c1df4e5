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

// MongoSeqs 收件箱序列仓储的 mongo 实现.
// 依赖 EnsureIndexes 建立的两条唯一索引;duplicate key 被归一化为
// ErrDupSeqID / ErrDupReceiverCopy,由上层决定重试还是跳过.
type MongoSeqs struct{}

func NewMongoSeqs() MongoSeqs { return MongoSeqs{} }

func (MongoSeqs) Insert(ctx context.Context, s *model.Seq) error {
	_, err := s.Collection().InsertOne(ctx, s)
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		if s.SenderMessageID != "" {
			exists, qerr := (MongoSeqs{}).ReceiverCopyExists(ctx, s.ObjectID, s.SenderMessageID)
			if qerr == nil && exists {
				return ErrDupReceiverCopy
			}
		}
		return ErrDupSeqID
	}
	return errs.WrapMsg(err, "insert seq")
}

func (MongoSeqs) MaxSeqID(ctx context.Context, key model.InboxKey) (int64, error) {
	opts := options.FindOne().
		SetSort(bson.M{model.SeqFieldSeqID: -1}).
		SetProjection(bson.M{model.SeqFieldSeqID: 1})
	var row struct {
		SeqID int64 `bson:"seq_id"`
	}
	err := (&model.Seq{}).Collection().FindOne(ctx, inboxFilter(key), opts).Decode(&row)
	if err == mongo.ErrNoDocuments {
		return 0, nil
	}
	if err != nil {
		return 0, errs.WrapMsg(err, "max seq_id")
	}
	return row.SeqID, nil
}

func (MongoSeqs) GetByID(ctx context.Context, id string) (*model.Seq, error) {
	var out model.Seq
	err := (&model.Seq{}).Collection().
		FindOne(ctx, bson.M{model.SeqFieldID: id}).Decode(&out)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find seq")
	}
	return &out, nil
}

func (MongoSeqs) GetByMessageID(ctx context.Context, messageID string) (*model.Seq, error) {
	var out model.Seq
	err := (&model.Seq{}).Collection().
		FindOne(ctx, bson.M{model.SeqFieldMessageID: messageID}).Decode(&out)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find seq by message id")
	}
	return &out, nil
}

func (MongoSeqs) GetMasterByMagicID(ctx context.Context, magicMessageID string) (*model.Seq, error) {
	var out model.Seq
	err := (&model.Seq{}).Collection().FindOne(ctx, bson.M{
		model.SeqFieldMagicMessageID:  magicMessageID,
		model.SeqFieldSenderMessageID: "",
	}).Decode(&out)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find master seq")
	}
	return &out, nil
}

func (MongoSeqs) ReceiverCopyExists(ctx context.Context, objectID, senderMessageID string) (bool, error) {
	n, err := (&model.Seq{}).Collection().CountDocuments(ctx, bson.M{
		model.SeqFieldObjectID:        objectID,
		model.SeqFieldSenderMessageID: senderMessageID,
	}, options.Count().SetLimit(1))
	if err != nil {
		return false, errs.WrapMsg(err, "count receiver copy")
	}
	return n > 0, nil
}

func (MongoSeqs) ListInbox(ctx context.Context, key model.InboxKey, afterSeqID int64, limit int) ([]*model.Seq, error) {
	filter := inboxFilter(key)
	filter[model.SeqFieldSeqID] = bson.M{"$gt": afterSeqID}
	opts := options.Find().
		SetSort(bson.M{model.SeqFieldSeqID: 1}).
		SetLimit(int64(limit))
	cur, err := (&model.Seq{}).Collection().Find(ctx, filter, opts)
	if err != nil {
		return nil, errs.WrapMsg(err, "list inbox")
	}
	defer cur.Close(ctx)

	var out []*model.Seq
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.WrapMsg(err, "decode inbox batch")
	}
	return out, nil
}

func (MongoSeqs) ListConversation(ctx context.Context, q ConversationMessagesQuery) ([]*model.Seq, error) {
	filter := bson.M{
		model.SeqFieldOrganizationCode: q.OrganizationCode,
		model.SeqFieldObjectType:       q.ObjectType,
		model.SeqFieldObjectID:         q.ObjectID,
		model.SeqFieldConversationID:   q.ConversationID,
	}
	if q.TopicID != "" {
		filter[model.SeqFieldExtra+".topic_id"] = q.TopicID
	}
	if q.AfterSeqID > 0 {
		filter[model.SeqFieldSeqID] = bson.M{"$gt": q.AfterSeqID}
	}
	if q.BeginTimeMS > 0 || q.EndTimeMS > 0 {
		rng := bson.M{}
		if q.BeginTimeMS > 0 {
			rng["$gte"] = time.UnixMilli(q.BeginTimeMS)
		}
		if q.EndTimeMS > 0 {
			rng["$lte"] = time.UnixMilli(q.EndTimeMS)
		}
		filter[model.SeqFieldCreatedAt] = rng
	}
	opts := options.Find().
		SetSort(bson.M{model.SeqFieldSeqID: 1}).
		SetLimit(int64(q.Limit))
	cur, err := (&model.Seq{}).Collection().Find(ctx, filter, opts)
	if err != nil {
		return nil, errs.WrapMsg(err, "list conversation seqs")
	}
	defer cur.Close(ctx)

	var out []*model.Seq
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.WrapMsg(err, "decode conversation batch")
	}
	return out, nil
}

func (MongoSeqs) UpdateContentByMagicID(ctx context.Context, magicMessageID, content string) error {
	_, err := (&model.Seq{}).Collection().UpdateMany(ctx,
		bson.M{model.SeqFieldMagicMessageID: magicMessageID},
		bson.M{"$set": bson.M{
			model.SeqFieldContent:   content,
			model.SeqFieldUpdatedAt: time.Now(),
		}})
	if err != nil {
		return errs.WrapMsg(err, "update seq content")
	}
	return nil
}

func (MongoSeqs) UpdateStatus(ctx context.Context, key model.InboxKey, seqIDs []int64, status model.SeqStatus) error {
	filter := inboxFilter(key)
	filter[model.SeqFieldSeqID] = bson.M{"$in": seqIDs}
	_, err := (&model.Seq{}).Collection().UpdateMany(ctx, filter,
		bson.M{"$set": bson.M{
			model.SeqFieldStatus:    status,
			model.SeqFieldUpdatedAt: time.Now(),
		}})
	if err != nil {
		return errs.WrapMsg(err, "update seq status")
	}
	return nil
}

// MoveReceiveListUser 把 uid 从主 seq receive_list 的所有状态列表里摘出,
// 再压进目标状态列表. 两步更新,先 pull 后 addToSet.
func (MongoSeqs) MoveReceiveListUser(ctx context.Context, senderMessageID, uid string, to model.SeqStatus) error {
	coll := (&model.Seq{}).Collection()
	filter := bson.M{model.SeqFieldMessageID: senderMessageID}

	_, err := coll.UpdateOne(ctx, filter, bson.M{"$pull": bson.M{
		model.SeqFieldReceiveList + ".unread_list": uid,
		model.SeqFieldReceiveList + ".seen_list":   uid,
		model.SeqFieldReceiveList + ".read_list":   uid,
	}})
	if err != nil {
		return errs.WrapMsg(err, "pull receive list user")
	}

	target := model.SeqFieldReceiveList + ".unread_list"
	switch to {
	case model.SeqStatusSeen:
		target = model.SeqFieldReceiveList + ".seen_list"
	case model.SeqStatusRead:
		target = model.SeqFieldReceiveList + ".read_list"
	}
	_, err = coll.UpdateOne(ctx, filter, bson.M{
		"$addToSet": bson.M{target: uid},
		"$set":      bson.M{model.SeqFieldUpdatedAt: time.Now()},
	})
	if err != nil {
		return errs.WrapMsg(err, "push receive list user")
	}
	return nil
}

func inboxFilter(key model.InboxKey) bson.M {
	return bson.M{
		model.SeqFieldOrganizationCode: key.OrganizationCode,
		model.SeqFieldObjectType:       key.ObjectType,
		model.SeqFieldObjectID:         key.ObjectID,
	}
}
