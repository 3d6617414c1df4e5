package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"MagicChat/logger"
	"MagicChat/module/chat/fanout"
	"MagicChat/module/chat/model"
	"MagicChat/module/chat/repo"
	"MagicChat/module/chat/seq"
	"MagicChat/module/chat/stream"
	"MagicChat/tools/errs"
	"MagicChat/tools/ids"
)

// Orchestrator 发送链路的总编排.
// 状态推进: 鉴权 → 解析 → 落库 → 分号 → 扇出入队 → 返回发件方投影.
// 发件方写入在前,扇出意图写 outbox,接收方副本之后异步补齐;
// 单聊在意图落库后顺手同步扇出一把,失败交给 poller 重放.
type Orchestrator struct {
	convs     repo.ConversationRepo
	messages  repo.MessageRepo
	seqs      repo.SeqRepo
	outbox    repo.OutboxRepo
	members   repo.GroupMemberRepo
	alloc     seq.Allocator
	directory *Directory
	gate      *AuthGate
	assembler *stream.Assembler
	engine    *fanout.Engine
	files     FileService
}

func NewOrchestrator(
	convs repo.ConversationRepo,
	messages repo.MessageRepo,
	seqs repo.SeqRepo,
	outbox repo.OutboxRepo,
	members repo.GroupMemberRepo,
	alloc seq.Allocator,
	directory *Directory,
	gate *AuthGate,
	assembler *stream.Assembler,
	engine *fanout.Engine,
	files FileService,
) *Orchestrator {
	return &Orchestrator{
		convs:     convs,
		messages:  messages,
		seqs:      seqs,
		outbox:    outbox,
		members:   members,
		alloc:     alloc,
		directory: directory,
		gate:      gate,
		assembler: assembler,
		engine:    engine,
		files:     files,
	}
}

// SendMessageReq 发送意图. ConversationID 为空时按 Receive* 三元组
// 幂等建会话(含反向窗口).
type SendMessageReq struct {
	ConversationID          string
	ReceiveID               string
	ReceiveType             model.ConversationType
	ReceiveOrganizationCode string
	AppMessageID            string
	TopicID                 string
	AnchorMessageID         string // 话题锚点,仅 AI 会话自动建话题时有意义
	ReferMessageID          string
	Content                 model.MessageContent
}

// SendChatMessage 发一条聊天消息,返回发件方视角的 seq+消息投影.
// 接收方扇出异步完成,不阻塞调用方.
func (o *Orchestrator) SendChatMessage(ctx context.Context, caller Caller, req *SendMessageReq) (*model.ClientSeq, error) {
	if req.Content == nil || !req.Content.TypeName().IsChat() {
		return nil, errs.ErrMessageTypeError.WrapMsg("chat send requires chat content")
	}

	// 流式分片: 非 Start 的分片不产生新的消息与 seq,走装配器短路
	if tc, ok := model.IsStreamContent(req.Content); ok && tc.StreamOptions.Status != model.StreamStatusStart {
		return o.applyStreamChunk(ctx, caller, req.AppMessageID, tc.Content,
			streamOffset(tc.StreamOptions), tc.StreamOptions.Status)
	}

	conv, err := o.resolveConversation(ctx, caller, req)
	if err != nil {
		return nil, err
	}
	if err := o.gate.CheckConversation(caller, conv); err != nil {
		return nil, err
	}

	// 附件必须属于发送者
	if ac, ok := req.Content.(*model.AttachmentContent); ok {
		filled, err := o.files.CheckAndFillAttachments(ctx, caller, ac.Attachments)
		if err != nil {
			return nil, err
		}
		ac.Attachments = filled
	}

	// app_message_id 幂等: 重放返回首次的结果
	if req.AppMessageID != "" {
		if cs, err := o.findExisting(ctx, caller, req.AppMessageID); err != nil || cs != nil {
			return cs, err
		}
	}

	topicID, err := o.directory.ResolveTopic(ctx, conv, req.TopicID, req.AnchorMessageID)
	if err != nil {
		return nil, err
	}

	content, err := model.EncodeContent(req.Content)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	msg := &model.Message{
		MagicMessageID:          ids.GenerateString(),
		AppMessageID:            req.AppMessageID,
		SenderID:                caller.UserID,
		SenderType:              callerType(caller),
		SenderOrganizationCode:  caller.OrganizationCode,
		ReceiveID:               conv.ReceiveID,
		ReceiveType:             conv.ReceiveType,
		ReceiveOrganizationCode: conv.ReceiveOrganizationCode,
		MessageType:             req.Content.TypeName(),
		Content:                 content,
		SendTime:                now,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if err := o.messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	recipients, err := o.recipientIDs(ctx, caller, conv)
	if err != nil {
		return nil, err
	}

	extra := &model.SeqExtra{TopicID: topicID, MagicEnvID: caller.MagicEnvID}
	senderSeq, err := o.insertSenderSeq(ctx, caller, msg, conv, extra, req.ReferMessageID, recipients)
	if err != nil {
		return nil, err
	}

	priority := fanout.ChatMessagePriority(conv.ReceiveType, len(recipients))
	if err := o.enqueueFanout(ctx, senderSeq, conv, priority); err != nil {
		return nil, err
	}

	// 流式 Start: 壳已建好,注册装配缓存
	if tc, ok := model.IsStreamContent(req.Content); ok {
		err := o.assembler.Begin(ctx, &model.StreamCacheEntry{
			AppMessageID:     req.AppMessageID,
			MagicMessageID:   msg.MagicMessageID,
			SenderMessageID:  senderSeq.MessageID,
			SenderID:         caller.UserID,
			OrganizationCode: caller.OrganizationCode,
			Content:          tc.Content,
			Status:           model.StreamStatusStart,
		})
		if err != nil {
			return nil, err
		}
	}

	return &model.ClientSeq{Seq: senderSeq, Message: msg}, nil
}

// AgentSendMessage 助理侧发送. 与用户发送同一条流水线,区别在于:
// 会话双向窗口由这里兜底建好,且助理私聊用户时话题必须显式给出,
// 对端窗口不是 AI 类型,无法替助理解析话题.
func (o *Orchestrator) AgentSendMessage(ctx context.Context, caller Caller, req *SendMessageReq) (*model.ClientSeq, error) {
	caller.IsAgent = true
	if req.TopicID == "" {
		conv, err := o.resolveConversation(ctx, caller, req)
		if err != nil {
			return nil, err
		}
		if conv != nil && conv.ReceiveType == model.ConversationTypeUser {
			return nil, errs.ErrTopicRequired.WrapMsg("agent private send requires topic id",
				"receive_id", conv.ReceiveID)
		}
	}
	return o.SendChatMessage(ctx, caller, req)
}

// SendStreamChunk 流式分片入口. Start 分片等价于带流式标记的 SendChatMessage.
// offset 是分片在整条流里的起始位置,未知传 stream.OffsetUnknown.
func (o *Orchestrator) SendStreamChunk(ctx context.Context, caller Caller, req *SendMessageReq, delta string, offset int64, status model.StreamStatus) (*model.ClientSeq, error) {
	if status == model.StreamStatusStart {
		req.Content = &model.TextContent{
			Content:       delta,
			StreamOptions: &model.StreamOptions{Stream: true, Status: model.StreamStatusStart},
		}
		return o.SendChatMessage(ctx, caller, req)
	}
	return o.applyStreamChunk(ctx, caller, req.AppMessageID, delta, offset, status)
}

func (o *Orchestrator) applyStreamChunk(ctx context.Context, caller Caller, appMessageID, delta string, offset int64, status model.StreamStatus) (*model.ClientSeq, error) {
	entry, _, err := o.assembler.Apply(ctx, &stream.Chunk{
		AppMessageID:     appMessageID,
		SenderID:         caller.UserID,
		OrganizationCode: caller.OrganizationCode,
		Delta:            delta,
		Offset:           offset,
		Status:           status,
	})
	if err != nil {
		return nil, err
	}
	senderSeq, err := o.seqs.GetByMessageID(ctx, entry.SenderMessageID)
	if err != nil {
		return nil, err
	}
	msg, err := o.messages.GetByMagicMessageID(ctx, entry.MagicMessageID)
	if err != nil {
		return nil, err
	}
	return &model.ClientSeq{Seq: senderSeq, Message: msg}, nil
}

// EditMessage 编辑: 版本追加,原文不动,编辑事件按普通消息扇出.
func (o *Orchestrator) EditMessage(ctx context.Context, caller Caller, conversationID, magicMessageID string, content model.MessageContent) (*model.ClientSeq, error) {
	if content == nil || !content.TypeName().IsChat() {
		return nil, errs.ErrMessageTypeError.WrapMsg("edit requires chat content")
	}
	conv, err := o.convs.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := o.gate.CheckConversation(caller, conv); err != nil {
		return nil, err
	}
	target, err := o.gate.CheckEditTarget(ctx, caller, conv, magicMessageID)
	if err != nil {
		return nil, err
	}

	encoded, err := model.EncodeContent(content)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	version := &model.MessageVersion{
		VersionID:      ids.GenerateString(),
		MagicMessageID: target.MagicMessageID,
		MessageType:    content.TypeName(),
		Content:        encoded,
		CreatedAt:      now,
	}
	if err := o.messages.AppendVersion(ctx, version); err != nil {
		return nil, err
	}
	// 拉取走 seq 副本,编辑后的内容也要刷进去
	if err := o.seqs.UpdateContentByMagicID(ctx, target.MagicMessageID, encoded); err != nil {
		return nil, err
	}

	recipients, err := o.recipientIDs(ctx, caller, conv)
	if err != nil {
		return nil, err
	}
	extra := &model.SeqExtra{
		MagicEnvID: caller.MagicEnvID,
		EditMessageOptions: &model.EditMessageOptions{
			MagicMessageID:   target.MagicMessageID,
			MessageVersionID: version.VersionID,
		},
	}
	editMsg := *target
	editMsg.MessageType = content.TypeName()
	editMsg.Content = encoded
	senderSeq, err := o.insertSenderSeq(ctx, caller, &editMsg, conv, extra, "", recipients)
	if err != nil {
		return nil, err
	}

	priority := fanout.ChatMessagePriority(conv.ReceiveType, len(recipients))
	if err := o.enqueueFanout(ctx, senderSeq, conv, priority); err != nil {
		return nil, err
	}
	return &model.ClientSeq{Seq: senderSeq, Message: &editMsg}, nil
}

func (o *Orchestrator) resolveConversation(ctx context.Context, caller Caller, req *SendMessageReq) (*model.Conversation, error) {
	if req.ConversationID != "" {
		return o.convs.GetByID(ctx, req.ConversationID)
	}
	return o.directory.GetOrCreatePair(ctx, caller, callerType(caller),
		req.ReceiveID, req.ReceiveOrganizationCode, req.ReceiveType)
}

func (o *Orchestrator) findExisting(ctx context.Context, caller Caller, appMessageID string) (*model.ClientSeq, error) {
	msg, err := o.messages.GetByAppMessageID(ctx, caller.UserID, appMessageID)
	if err != nil || msg == nil {
		return nil, err
	}
	master, err := o.seqs.GetMasterByMagicID(ctx, msg.MagicMessageID)
	if err != nil {
		return nil, err
	}
	return &model.ClientSeq{Seq: master, Message: msg}, nil
}

// recipientIDs 扇出目标: 单聊即对端,群聊取现役成员(剔除发送者).
func (o *Orchestrator) recipientIDs(ctx context.Context, caller Caller, conv *model.Conversation) ([]string, error) {
	if conv.ReceiveType != model.ConversationTypeGroup {
		return []string{conv.ReceiveID}, nil
	}
	members, err := o.members.ListActiveMembers(ctx, conv.ReceiveID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(members))
	for _, m := range members {
		if m.UserID == caller.UserID {
			continue
		}
		out = append(out, m.UserID)
	}
	return out, nil
}

// insertSenderSeq 发件方主 seq: 自己收件箱里的一条 Read 记录,
// 挂接收名单,撞号走矫正重试.
func (o *Orchestrator) insertSenderSeq(ctx context.Context, caller Caller, msg *model.Message, conv *model.Conversation, extra *model.SeqExtra, referMessageID string, recipients []string) (*model.Seq, error) {
	key := model.InboxKey{
		OrganizationCode: caller.OrganizationCode,
		ObjectType:       callerType(caller),
		ObjectID:         caller.UserID,
	}
	receiveList := &model.ReceiveList{
		UnreadList: recipients,
		SeenList:   []string{},
		ReadList:   []string{},
	}
	return insertSeqWithRetry(ctx, o.alloc, o.seqs, key, func(seqID int64) *model.Seq {
		now := time.Now()
		return &model.Seq{
			ID:               ids.GenerateString(),
			OrganizationCode: key.OrganizationCode,
			ObjectType:       key.ObjectType,
			ObjectID:         key.ObjectID,
			SeqID:            seqID,
			SeqType:          msg.MessageType,
			Content:          msg.Content,
			MagicMessageID:   msg.MagicMessageID,
			MessageID:        ids.GenerateString(),
			ReferMessageID:   referMessageID,
			ConversationID:   conv.ID,
			Status:           model.SeqStatusRead,
			ReceiveList:      receiveList,
			Extra:            extra,
			AppMessageID:     msg.AppMessageID,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
	})
}

// enqueueFanout 落扇出意图. 单聊顺手同步扇一把,成功即标记 Sent;
// 失败不阻断发送,poller 异步重放.
func (o *Orchestrator) enqueueFanout(ctx context.Context, senderSeq *model.Seq, conv *model.Conversation, priority fanout.Priority) error {
	row := &model.DispatchOutbox{
		ID:               ids.GenerateString(),
		OrganizationCode: senderSeq.OrganizationCode,
		SenderSeqID:      senderSeq.ID,
		ConversationID:   conv.ID,
		ReceiveType:      conv.ReceiveType,
		Priority:         int32(priority),
		State:            model.OutboxStatePending,
		CreatedAt:        time.Now(),
	}
	if err := o.outbox.Append(ctx, row); err != nil {
		return err
	}

	if conv.ReceiveType == model.ConversationTypeGroup {
		return nil
	}
	if err := o.engine.Dispatch(ctx, senderSeq); err != nil {
		logger.Warn("sync fanout failed, falling back to queue",
			zap.String("sender_seq_id", senderSeq.ID), zap.Error(err))
		return nil
	}
	if err := o.outbox.MarkSent(ctx, row.ID); err != nil {
		logger.Error("mark outbox sent failed", zap.String("id", row.ID), zap.Error(err))
	}
	return nil
}

// insertSeqWithRetry 分号+插入,唯一索引冲突时用库内最大号矫正后重试.
func insertSeqWithRetry(ctx context.Context, alloc seq.Allocator, seqs repo.SeqRepo, key model.InboxKey, build func(seqID int64) *model.Seq) (*model.Seq, error) {
	const maxRetry = 3
	for attempt := 0; attempt < maxRetry; attempt++ {
		var seqID int64
		var err error
		if attempt == 0 {
			seqID, err = alloc.Next(ctx, key)
		} else {
			var storeMax int64
			storeMax, err = seqs.MaxSeqID(ctx, key)
			if err != nil {
				return nil, err
			}
			seqID, err = alloc.Reconcile(ctx, key, storeMax)
		}
		if err != nil {
			return nil, err
		}
		row := build(seqID)
		err = seqs.Insert(ctx, row)
		if err == nil {
			return row, nil
		}
		if repo.IsDupSeqID(err) {
			continue
		}
		return nil, err
	}
	return nil, errs.ErrAllocationUnavailable.WrapMsg("seq_id collision retries exhausted",
		"object_id", key.ObjectID)
}

func streamOffset(so *model.StreamOptions) int64 {
	if so == nil || so.Offset == nil {
		return stream.OffsetUnknown
	}
	return *so.Offset
}

func callerType(caller Caller) model.ConversationType {
	if caller.IsAgent {
		return model.ConversationTypeAi
	}
	return model.ConversationTypeUser
}
