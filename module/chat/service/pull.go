package service

import (
	"context"
	"strconv"
	"time"

	"MagicChat/module/chat/model"
	"MagicChat/module/chat/repo"
	"MagicChat/tools/errs"
	"MagicChat/tools/ids"
)

const defaultPageSize = 100

// Page 游标分页结果. PageToken 是最后一条 seq_id 的不透明游标,
// HasMore 以"整页取满"为判据.
type Page struct {
	Items     []*model.ClientSeq `json:"items"`
	HasMore   bool               `json:"has_more"`
	PageToken string             `json:"page_token"`
}

// PullByPageToken 按收件箱游标增量拉取.
func (o *Orchestrator) PullByPageToken(ctx context.Context, caller Caller, pageToken string, pageSize int) (*Page, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	after, err := parsePageToken(pageToken)
	if err != nil {
		return nil, err
	}
	key := model.InboxKey{
		OrganizationCode: caller.OrganizationCode,
		ObjectType:       callerType(caller),
		ObjectID:         caller.UserID,
	}
	rows, err := o.seqs.ListInbox(ctx, key, after, pageSize)
	if err != nil {
		return nil, err
	}
	return o.buildPage(ctx, rows, pageSize)
}

// ConversationMessagesReq 会话窗口滚动加载参数.
// 时间窗与游标二选一,都给时游标优先.
type ConversationMessagesReq struct {
	ConversationID string
	TopicID        string
	PageToken      string
	BeginTime      time.Time
	EndTime        time.Time
	PageSize       int
}

// GetMessagesByConversation 拉某个会话窗口内的消息.
func (o *Orchestrator) GetMessagesByConversation(ctx context.Context, caller Caller, req *ConversationMessagesReq) (*Page, error) {
	conv, err := o.convs.GetByID(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if err := o.gate.CheckConversation(caller, conv); err != nil {
		return nil, err
	}
	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	after, err := parsePageToken(req.PageToken)
	if err != nil {
		return nil, err
	}
	q := repo.ConversationMessagesQuery{
		OrganizationCode: caller.OrganizationCode,
		ObjectType:       callerType(caller),
		ObjectID:         caller.UserID,
		ConversationID:   conv.ID,
		TopicID:          req.TopicID,
		AfterSeqID:       after,
		Limit:            req.PageSize,
	}
	if after == 0 {
		if !req.BeginTime.IsZero() {
			q.BeginTimeMS = req.BeginTime.UnixMilli()
		}
		if !req.EndTime.IsZero() {
			q.EndTimeMS = req.EndTime.UnixMilli()
		}
	}
	rows, err := o.seqs.ListConversation(ctx, q)
	if err != nil {
		return nil, err
	}
	return o.buildPage(ctx, rows, req.PageSize)
}

// MarkSeqStatus 收件方回执: 更新自己副本的状态,把自己在发件方主 seq
// 接收名单里挪到对应档,并给发件方收件箱投一条 seen_messages 控制 seq.
func (o *Orchestrator) MarkSeqStatus(ctx context.Context, caller Caller, seqRowIDs []string, status model.SeqStatus) error {
	key := model.InboxKey{
		OrganizationCode: caller.OrganizationCode,
		ObjectType:       callerType(caller),
		ObjectID:         caller.UserID,
	}
	for _, id := range seqRowIDs {
		sq, err := o.seqs.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if sq == nil {
			return errs.ErrMessageNotFound.WrapMsg("seq missing", "seq_row_id", id)
		}
		if sq.InboxKey() != key {
			return errs.ErrAuthorizationDenied.WrapMsg("seq outside caller inbox", "seq_row_id", id)
		}
		if err := o.seqs.UpdateStatus(ctx, key, []int64{sq.SeqID}, status); err != nil {
			return err
		}
		if sq.SenderMessageID == "" {
			continue
		}
		if err := o.seqs.MoveReceiveListUser(ctx, sq.SenderMessageID, caller.UserID, status); err != nil {
			return err
		}
		if status == model.SeqStatusSeen || status == model.SeqStatusRead {
			if err := o.notifySender(ctx, caller, sq); err != nil {
				return err
			}
		}
	}
	return nil
}

// notifySender 给发件方收件箱投控制 seq,客户端据此点亮已读回执.
func (o *Orchestrator) notifySender(ctx context.Context, caller Caller, receiverSeq *model.Seq) error {
	master, err := o.seqs.GetByMessageID(ctx, receiverSeq.SenderMessageID)
	if err != nil || master == nil {
		return err
	}
	control := &model.ControlContent{
		Kind: model.MessageTypeSeenMessages,
		Payload: map[string]any{
			"refer_message_ids": []string{receiverSeq.SenderMessageID},
			"seen_by":           caller.UserID,
		},
	}
	encoded, err := model.EncodeContent(control)
	if err != nil {
		return err
	}
	_, err = insertSeqWithRetry(ctx, o.alloc, o.seqs, master.InboxKey(), func(seqID int64) *model.Seq {
		now := time.Now()
		return &model.Seq{
			ID:               ids.GenerateString(),
			OrganizationCode: master.OrganizationCode,
			ObjectType:       master.ObjectType,
			ObjectID:         master.ObjectID,
			SeqID:            seqID,
			SeqType:          model.MessageTypeSeenMessages,
			Content:          encoded,
			MessageID:        ids.GenerateString(),
			ReferMessageID:   receiverSeq.SenderMessageID,
			ConversationID:   master.ConversationID,
			Status:           model.SeqStatusRead,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
	})
	return err
}

func (o *Orchestrator) buildPage(ctx context.Context, rows []*model.Seq, pageSize int) (*Page, error) {
	magicIDs := make([]string, 0, len(rows))
	for _, sq := range rows {
		if sq.MagicMessageID != "" {
			magicIDs = append(magicIDs, sq.MagicMessageID)
		}
	}
	msgs, err := o.messages.GetByMagicMessageIDs(ctx, magicIDs)
	if err != nil {
		return nil, err
	}
	items := make([]*model.ClientSeq, 0, len(rows))
	for _, sq := range rows {
		items = append(items, &model.ClientSeq{Seq: sq, Message: msgs[sq.MagicMessageID]})
	}
	page := &Page{
		Items:   items,
		HasMore: len(rows) == pageSize,
	}
	if len(rows) > 0 {
		page.PageToken = strconv.FormatInt(rows[len(rows)-1].SeqID, 10)
	}
	return page, nil
}

func parsePageToken(token string) (int64, error) {
	if token == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(token, 10, 64)
	if err != nil || v < 0 {
		return 0, errs.New("bad page token", "token", token)
	}
	return v, nil
}
