package fanout

import (
	"context"
	"time"

	"go.uber.org/zap"

	"MagicChat/logger"
	"MagicChat/module/chat/model"
	"MagicChat/module/chat/repo"
	"MagicChat/module/chat/seq"
	"MagicChat/tools/errs"
	"MagicChat/tools/ids"
)

// seq_id 撞唯一索引后的重分配上限
const maxAllocRetry = 3

// Recipient 一次扇出的单个接收方
type Recipient struct {
	ID               string
	OrganizationCode string
	Type             model.ConversationType
	Muted            bool // 免打扰: 仍写扩散,不在线推送
}

// ConversationResolver 为接收方找到(或建出)指向发送方的会话窗口.
// service 层的 Directory 实现它,这里只依赖最小面.
type ConversationResolver interface {
	GetOrCreate(ctx context.Context, userID, userOrg string, receiveID, receiveOrg string, receiveType model.ConversationType) (*model.Conversation, error)
}

// Pusher 在线推送. 失败只记日志,投递正确性不依赖它.
type Pusher interface {
	PushOnline(ctx context.Context, recipientID string, cs *model.ClientSeq)
}

// Engine 写扩散引擎. 入口是发件方主 seq,出口是每个接收方
// 收件箱里一条 Unread 副本加一次在线推送.
type Engine struct {
	seqs     repo.SeqRepo
	messages repo.MessageRepo
	members  repo.GroupMemberRepo
	alloc    seq.Allocator
	resolver ConversationResolver
	pusher   Pusher
}

func NewEngine(seqs repo.SeqRepo, messages repo.MessageRepo, members repo.GroupMemberRepo,
	alloc seq.Allocator, resolver ConversationResolver, pusher Pusher) *Engine {
	return &Engine{
		seqs:     seqs,
		messages: messages,
		members:  members,
		alloc:    alloc,
		resolver: resolver,
		pusher:   pusher,
	}
}

// Dispatch 执行一次扇出. 任意子集失败返回 FanoutPartialFailure,
// 整个调用可安全重放: 已有副本的接收方被唯一索引挡住后跳过.
func (e *Engine) Dispatch(ctx context.Context, senderSeq *model.Seq) error {
	msg, err := e.messages.GetByMagicMessageID(ctx, senderSeq.MagicMessageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return errs.ErrMessageNotFound.WrapMsg("fanout source message missing",
			"magic_message_id", senderSeq.MagicMessageID)
	}

	recipients, err := e.resolveRecipients(ctx, msg)
	if err != nil {
		return err
	}

	var failed int
	for _, rcpt := range recipients {
		if err := e.deliverOne(ctx, senderSeq, msg, rcpt); err != nil {
			failed++
			logger.Error("fanout delivery failed",
				zap.String("recipient", rcpt.ID),
				zap.String("sender_message_id", senderSeq.MessageID),
				zap.Error(err))
		}
	}
	if failed > 0 {
		return errs.ErrFanoutPartialFailure.WrapMsg("some recipients failed",
			"failed", failed, "total", len(recipients))
	}
	return nil
}

func (e *Engine) resolveRecipients(ctx context.Context, msg *model.Message) ([]Recipient, error) {
	switch msg.ReceiveType {
	case model.ConversationTypeUser, model.ConversationTypeAi:
		return []Recipient{{
			ID:               msg.ReceiveID,
			OrganizationCode: msg.ReceiveOrganizationCode,
			Type:             msg.ReceiveType,
		}}, nil
	case model.ConversationTypeGroup:
		members, err := e.members.ListActiveMembers(ctx, msg.ReceiveID)
		if err != nil {
			return nil, err
		}
		out := make([]Recipient, 0, len(members))
		for _, m := range members {
			if m.UserID == msg.SenderID {
				continue
			}
			out = append(out, Recipient{
				ID:               m.UserID,
				OrganizationCode: m.OrganizationCode,
				Type:             model.ConversationTypeUser,
				Muted:            m.Muted,
			})
		}
		return out, nil
	default:
		return nil, errs.ErrConversationTypeUnsupported.WrapMsg("fanout",
			"receive_type", int32(msg.ReceiveType))
	}
}

// deliverOne 给单个接收方写收件副本. seq_id 撞号走矫正重试,
// (object_id, sender_message_id) 撞索引说明已投递过,静默跳过.
func (e *Engine) deliverOne(ctx context.Context, senderSeq *model.Seq, msg *model.Message, rcpt Recipient) error {
	exists, err := e.seqs.ReceiverCopyExists(ctx, rcpt.ID, senderSeq.MessageID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	// 接收方自己的会话窗口: 群聊指向群,单聊指向发送方
	convReceiveID := msg.SenderID
	convReceiveOrg := msg.SenderOrganizationCode
	convReceiveType := model.ConversationType(0)
	if msg.ReceiveType == model.ConversationTypeGroup {
		convReceiveID = msg.ReceiveID
		convReceiveOrg = msg.ReceiveOrganizationCode
		convReceiveType = model.ConversationTypeGroup
	} else {
		convReceiveType = senderToReceiverType(msg)
	}
	conv, err := e.resolver.GetOrCreate(ctx, rcpt.ID, rcpt.OrganizationCode,
		convReceiveID, convReceiveOrg, convReceiveType)
	if err != nil {
		return err
	}

	key := model.InboxKey{
		OrganizationCode: rcpt.OrganizationCode,
		ObjectType:       rcpt.Type,
		ObjectID:         rcpt.ID,
	}

	var inserted *model.Seq
	for attempt := 0; attempt < maxAllocRetry; attempt++ {
		var seqID int64
		if attempt == 0 {
			seqID, err = e.alloc.Next(ctx, key)
		} else {
			var storeMax int64
			storeMax, err = e.seqs.MaxSeqID(ctx, key)
			if err != nil {
				return err
			}
			seqID, err = e.alloc.Reconcile(ctx, key, storeMax)
		}
		if err != nil {
			return err
		}

		now := time.Now()
		copySeq := &model.Seq{
			ID:               ids.GenerateString(),
			OrganizationCode: rcpt.OrganizationCode,
			ObjectType:       rcpt.Type,
			ObjectID:         rcpt.ID,
			SeqID:            seqID,
			SeqType:          senderSeq.SeqType,
			Content:          senderSeq.Content,
			MagicMessageID:   senderSeq.MagicMessageID,
			MessageID:        ids.GenerateString(),
			ReferMessageID:   senderSeq.ReferMessageID,
			SenderMessageID:  senderSeq.MessageID,
			ConversationID:   conv.ID,
			Status:           model.SeqStatusUnread,
			Extra:            senderSeq.Extra,
			AppMessageID:     senderSeq.AppMessageID,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		err = e.seqs.Insert(ctx, copySeq)
		if err == nil {
			inserted = copySeq
			break
		}
		if repo.IsDupReceiverCopy(err) {
			return nil
		}
		if repo.IsDupSeqID(err) {
			continue
		}
		return err
	}
	if inserted == nil {
		return errs.ErrAllocationUnavailable.WrapMsg("seq_id collision retries exhausted",
			"object_id", rcpt.ID)
	}

	if !rcpt.Muted {
		e.pusher.PushOnline(ctx, rcpt.ID, &model.ClientSeq{Seq: inserted, Message: msg})
	}
	return nil
}

// 接收方视角的会话类型: 用户↔用户还是用户↔助理
func senderToReceiverType(msg *model.Message) model.ConversationType {
	if msg.SenderType == model.ConversationTypeAi {
		return model.ConversationTypeAi
	}
	return model.ConversationTypeUser
}
