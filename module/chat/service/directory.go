package service

import (
	"context"
	"time"

	"MagicChat/module/chat/model"
	"MagicChat/module/chat/repo"
	"MagicChat/tools/errs"
	"MagicChat/tools/ids"
)

// TopicAnchorNone 无锚点话题. 来源数据里用 "0" 当哨兵,
// 这里把"没有锚点"显式建模成空串.
const TopicAnchorNone = ""

// Directory 会话与话题目录.
type Directory struct {
	convs  repo.ConversationRepo
	topics repo.TopicRepo
}

func NewDirectory(convs repo.ConversationRepo, topics repo.TopicRepo) *Directory {
	return &Directory{convs: convs, topics: topics}
}

// GetOrCreate 幂等地拿到 user 指向 receive 的会话窗口.
// 签名同时服务扇出引擎的 ConversationResolver.
func (d *Directory) GetOrCreate(ctx context.Context, userID, userOrg string, receiveID, receiveOrg string, receiveType model.ConversationType) (*model.Conversation, error) {
	if !receiveType.Supported() {
		return nil, errs.ErrConversationTypeUnsupported.WrapMsg("get or create",
			"receive_type", int32(receiveType))
	}
	if c, err := d.convs.GetByUserAndReceive(ctx, userID, receiveID); err != nil || c != nil {
		return c, err
	}
	now := time.Now()
	return d.convs.Create(ctx, &model.Conversation{
		ID:                      ids.GenerateString(),
		UserID:                  userID,
		ReceiveID:               receiveID,
		ReceiveType:             receiveType,
		UserOrganizationCode:    userOrg,
		ReceiveOrganizationCode: receiveOrg,
		Status:                  model.ConversationStatusNormal,
		CreatedAt:               now,
		UpdatedAt:               now,
	})
}

// GetOrCreatePair 双向建窗口: 非群聊时对端也需要自己的会话来挂话题.
// 返回发起方视角的会话.
func (d *Directory) GetOrCreatePair(ctx context.Context, caller Caller, callerType model.ConversationType, receiveID, receiveOrg string, receiveType model.ConversationType) (*model.Conversation, error) {
	own, err := d.GetOrCreate(ctx, caller.UserID, caller.OrganizationCode, receiveID, receiveOrg, receiveType)
	if err != nil {
		return nil, err
	}
	if receiveType != model.ConversationTypeGroup {
		if _, err := d.GetOrCreate(ctx, receiveID, receiveOrg, caller.UserID, caller.OrganizationCode, callerType); err != nil {
			return nil, err
		}
	}
	return own, nil
}

// ResolveTopic 决定消息归属的话题.
// 助理会话必须有话题: 未显式给出时按锚点解析,首次接触自动建;
// 会话里只有带锚点的话题而调用方什么都没给,属于无法裁决的歧义,
// 报 TopicRequired 而不是替调用方猜.
func (d *Directory) ResolveTopic(ctx context.Context, conv *model.Conversation, topicID, anchorMessageID string) (string, error) {
	if topicID != "" {
		return topicID, nil
	}
	if conv.ReceiveType != model.ConversationTypeAi {
		return "", nil
	}

	t, err := d.topics.GetByAnchor(ctx, conv.ID, anchorMessageID)
	if err != nil {
		return "", err
	}
	if t != nil {
		return t.ID, nil
	}

	if anchorMessageID == TopicAnchorNone {
		latest, err := d.topics.LatestByConversation(ctx, conv.ID)
		if err != nil {
			return "", err
		}
		if latest != nil && latest.AnchorMessageID != TopicAnchorNone {
			return "", errs.ErrTopicRequired.WrapMsg("conversation has anchored topics only",
				"conversation_id", conv.ID)
		}
	}

	now := time.Now()
	topic := &model.Topic{
		ID:               ids.GenerateString(),
		ConversationID:   conv.ID,
		OrganizationCode: conv.UserOrganizationCode,
		AnchorMessageID:  anchorMessageID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := d.topics.Create(ctx, topic); err != nil {
		return "", err
	}
	return topic.ID, nil
}
