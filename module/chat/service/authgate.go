package service

import (
	"context"

	"MagicChat/module/chat/model"
	"MagicChat/module/chat/repo"
	"MagicChat/tools/errs"
)

// AuthGate 发送前的准入裁决. 校验有固定顺序:
// 组织 → 归属 → 会话状态 → 类型,编辑另查目标消息.
// 任何一步失败整次发送终止,不产生任何写入.
type AuthGate struct {
	messages repo.MessageRepo
}

func NewAuthGate(messages repo.MessageRepo) *AuthGate {
	return &AuthGate{messages: messages}
}

// CheckConversation 会话级准入.
// 助理会话(接收方是 Ai)两侧都可驱动,其余会话只有归属者能写.
func (g *AuthGate) CheckConversation(caller Caller, conv *model.Conversation) error {
	if conv == nil {
		return errs.ErrConversationNotFound.Wrap()
	}
	if conv.UserOrganizationCode != caller.OrganizationCode {
		return errs.ErrAuthorizationDenied.WrapMsg("organization mismatch",
			"conversation_id", conv.ID)
	}
	if conv.UserID != caller.UserID && conv.ReceiveType != model.ConversationTypeAi {
		return errs.ErrAuthorizationDenied.WrapMsg("not conversation owner",
			"conversation_id", conv.ID)
	}
	if conv.Status == model.ConversationStatusDeleted {
		return errs.ErrConversationDeleted.WrapMsg("conversation removed",
			"conversation_id", conv.ID)
	}
	if !conv.ReceiveType.Supported() {
		return errs.ErrConversationTypeUnsupported.WrapMsg("send",
			"receive_type", int32(conv.ReceiveType))
	}
	return nil
}

// CheckEditTarget 编辑目标: 必须存在、属于调用方、且在同一会话里.
func (g *AuthGate) CheckEditTarget(ctx context.Context, caller Caller, conv *model.Conversation, magicMessageID string) (*model.Message, error) {
	msg, err := g.messages.GetByMagicMessageID(ctx, magicMessageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, errs.ErrMessageNotFound.WrapMsg("edit target",
			"magic_message_id", magicMessageID)
	}
	if msg.SenderID != caller.UserID {
		return nil, errs.ErrAuthorizationDenied.WrapMsg("edit target owned by someone else",
			"magic_message_id", magicMessageID)
	}
	if msg.ReceiveID != conv.ReceiveID {
		return nil, errs.ErrAuthorizationDenied.WrapMsg("edit target outside conversation",
			"magic_message_id", magicMessageID, "conversation_id", conv.ID)
	}
	if !msg.MessageType.IsChat() {
		return nil, errs.ErrMessageTypeError.WrapMsg("control messages are not editable",
			"message_type", string(msg.MessageType))
	}
	return msg, nil
}
