package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"MagicChat/module/chat/model"
)

// MemStore 全内存仓储,按实体切面暴露各仓储接口.
// 测试与单机体验用;唯一索引语义与生产实现保持一致.
type MemStore struct {
	mu sync.RWMutex

	convByID    map[string]*model.Conversation
	convByPair  map[string]*model.Conversation // user|receive -> conv
	topics      map[string]*model.Topic
	messages    map[string]*model.Message
	msgByApp    map[string]*model.Message // sender|app_message_id -> msg
	versions    map[string][]*model.MessageVersion
	seqByID     map[string]*model.Seq
	seqByMsgID  map[string]*model.Seq
	seqByInbox  map[model.InboxKey]map[int64]*model.Seq
	recvCopyIdx map[string]struct{} // object_id|sender_message_id
	outbox      []*model.DispatchOutbox
	members     map[string][]GroupMember // group_id -> members
}

func NewMemStore() *MemStore {
	return &MemStore{
		convByID:    make(map[string]*model.Conversation),
		convByPair:  make(map[string]*model.Conversation),
		topics:      make(map[string]*model.Topic),
		messages:    make(map[string]*model.Message),
		msgByApp:    make(map[string]*model.Message),
		versions:    make(map[string][]*model.MessageVersion),
		seqByID:     make(map[string]*model.Seq),
		seqByMsgID:  make(map[string]*model.Seq),
		seqByInbox:  make(map[model.InboxKey]map[int64]*model.Seq),
		recvCopyIdx: make(map[string]struct{}),
		members:     make(map[string][]GroupMember),
	}
}

func (s *MemStore) Conversations() ConversationRepo { return memConversations{s} }
func (s *MemStore) Topics() TopicRepo               { return memTopics{s} }
func (s *MemStore) Messages() MessageRepo           { return memMessages{s} }
func (s *MemStore) Seqs() SeqRepo                   { return memSeqs{s} }
func (s *MemStore) Outbox() OutboxRepo              { return memOutbox{s} }
func (s *MemStore) GroupMembers() GroupMemberRepo   { return memMembers{s} }

func pairKey(a, b string) string { return a + "|" + b }

// SetConversationStatus 测试辅助: 直接翻转会话状态
func (s *MemStore) SetConversationStatus(id string, st model.ConversationStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convByID[id]; ok {
		c.Status = st
	}
}

// PutGroupMembers 测试辅助: 设置群成员
func (s *MemStore) PutGroupMembers(groupID string, ms []GroupMember) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[groupID] = ms
}

// ---- ConversationRepo ----

type memConversations struct{ s *MemStore }

func (r memConversations) Create(ctx context.Context, c *model.Conversation) (*model.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if old, ok := r.s.convByPair[pairKey(c.UserID, c.ReceiveID)]; ok {
		cp := *old
		return &cp, nil
	}
	cp := *c
	r.s.convByID[cp.ID] = &cp
	r.s.convByPair[pairKey(cp.UserID, cp.ReceiveID)] = &cp
	ret := cp
	return &ret, nil
}

func (r memConversations) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if c, ok := r.s.convByID[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (r memConversations) GetByUserAndReceive(ctx context.Context, userID, receiveID string) (*model.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if c, ok := r.s.convByPair[pairKey(userID, receiveID)]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

// ---- TopicRepo ----

type memTopics struct{ s *MemStore }

func (r memTopics) Create(ctx context.Context, t *model.Topic) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *t
	r.s.topics[cp.ID] = &cp
	return nil
}

func (r memTopics) GetByAnchor(ctx context.Context, conversationID, anchorMessageID string) (*model.Topic, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var latest *model.Topic
	for _, t := range r.s.topics {
		if t.ConversationID != conversationID || t.AnchorMessageID != anchorMessageID {
			continue
		}
		if latest == nil || t.CreatedAt.After(latest.CreatedAt) {
			latest = t
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r memTopics) LatestByConversation(ctx context.Context, conversationID string) (*model.Topic, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var latest *model.Topic
	for _, t := range r.s.topics {
		if t.ConversationID != conversationID {
			continue
		}
		if latest == nil || t.CreatedAt.After(latest.CreatedAt) {
			latest = t
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

// ---- MessageRepo ----

type memMessages struct{ s *MemStore }

func (r memMessages) Create(ctx context.Context, m *model.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *m
	r.s.messages[cp.MagicMessageID] = &cp
	if cp.AppMessageID != "" {
		r.s.msgByApp[pairKey(cp.SenderID, cp.AppMessageID)] = &cp
	}
	return nil
}

func (r memMessages) GetByMagicMessageID(ctx context.Context, magicMessageID string) (*model.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if m, ok := r.s.messages[magicMessageID]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, nil
}

func (r memMessages) GetByMagicMessageIDs(ctx context.Context, ids []string) (map[string]*model.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make(map[string]*model.Message, len(ids))
	for _, id := range ids {
		if m, ok := r.s.messages[id]; ok {
			cp := *m
			out[id] = &cp
		}
	}
	return out, nil
}

func (r memMessages) GetByAppMessageID(ctx context.Context, senderID, appMessageID string) (*model.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if m, ok := r.s.msgByApp[pairKey(senderID, appMessageID)]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, nil
}

func (r memMessages) AppendVersion(ctx context.Context, v *model.MessageVersion) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *v
	r.s.versions[cp.MagicMessageID] = append(r.s.versions[cp.MagicMessageID], &cp)
	if m, ok := r.s.messages[cp.MagicMessageID]; ok {
		m.CurrentVersionID = cp.VersionID
		m.UpdatedAt = time.Now()
	}
	return nil
}

func (r memMessages) ListVersions(ctx context.Context, magicMessageID string) ([]*model.MessageVersion, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	vs := r.s.versions[magicMessageID]
	out := make([]*model.MessageVersion, 0, len(vs))
	for _, v := range vs {
		cp := *v
		out = append(out, &cp)
	}
	return out, nil
}

func (r memMessages) UpdateContent(ctx context.Context, magicMessageID, content string, sendTime time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if m, ok := r.s.messages[magicMessageID]; ok {
		m.Content = content
		m.SendTime = sendTime
		m.UpdatedAt = time.Now()
	}
	return nil
}

// ---- SeqRepo ----

type memSeqs struct{ s *MemStore }

func (r memSeqs) Insert(ctx context.Context, sq *model.Seq) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := sq.InboxKey()
	if _, ok := r.s.seqByInbox[key]; !ok {
		r.s.seqByInbox[key] = make(map[int64]*model.Seq)
	}
	if _, ok := r.s.seqByInbox[key][sq.SeqID]; ok {
		return ErrDupSeqID
	}
	if sq.SenderMessageID != "" {
		ck := pairKey(sq.ObjectID, sq.SenderMessageID)
		if _, ok := r.s.recvCopyIdx[ck]; ok {
			return ErrDupReceiverCopy
		}
		r.s.recvCopyIdx[ck] = struct{}{}
	}

	cp := *sq
	r.s.seqByInbox[key][cp.SeqID] = &cp
	r.s.seqByID[cp.ID] = &cp
	r.s.seqByMsgID[cp.MessageID] = &cp
	return nil
}

func (r memSeqs) MaxSeqID(ctx context.Context, key model.InboxKey) (int64, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var max int64
	for id := range r.s.seqByInbox[key] {
		if id > max {
			max = id
		}
	}
	return max, nil
}

func (r memSeqs) GetByID(ctx context.Context, id string) (*model.Seq, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if sq, ok := r.s.seqByID[id]; ok {
		cp := *sq
		return &cp, nil
	}
	return nil, nil
}

func (r memSeqs) GetByMessageID(ctx context.Context, messageID string) (*model.Seq, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if sq, ok := r.s.seqByMsgID[messageID]; ok {
		cp := *sq
		return &cp, nil
	}
	return nil, nil
}

func (r memSeqs) GetMasterByMagicID(ctx context.Context, magicMessageID string) (*model.Seq, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, sq := range r.s.seqByID {
		if sq.MagicMessageID == magicMessageID && sq.SenderMessageID == "" {
			cp := *sq
			return &cp, nil
		}
	}
	return nil, nil
}

func (r memSeqs) ReceiverCopyExists(ctx context.Context, objectID, senderMessageID string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	_, ok := r.s.recvCopyIdx[pairKey(objectID, senderMessageID)]
	return ok, nil
}

func (r memSeqs) ListInbox(ctx context.Context, key model.InboxKey, afterSeqID int64, limit int) ([]*model.Seq, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*model.Seq, 0, limit)
	for id, sq := range r.s.seqByInbox[key] {
		if id > afterSeqID {
			cp := *sq
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeqID < out[j].SeqID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memSeqs) ListConversation(ctx context.Context, q ConversationMessagesQuery) ([]*model.Seq, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	key := model.InboxKey{OrganizationCode: q.OrganizationCode, ObjectType: q.ObjectType, ObjectID: q.ObjectID}
	out := make([]*model.Seq, 0)
	for _, sq := range r.s.seqByInbox[key] {
		if sq.ConversationID != q.ConversationID {
			continue
		}
		if q.TopicID != "" && (sq.Extra == nil || sq.Extra.TopicID != q.TopicID) {
			continue
		}
		if q.AfterSeqID > 0 && sq.SeqID <= q.AfterSeqID {
			continue
		}
		ms := sq.CreatedAt.UnixMilli()
		if q.BeginTimeMS > 0 && ms < q.BeginTimeMS {
			continue
		}
		if q.EndTimeMS > 0 && ms > q.EndTimeMS {
			continue
		}
		cp := *sq
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeqID < out[j].SeqID })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r memSeqs) UpdateContentByMagicID(ctx context.Context, magicMessageID, content string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, sq := range r.s.seqByID {
		if sq.MagicMessageID == magicMessageID {
			sq.Content = content
			sq.UpdatedAt = time.Now()
		}
	}
	return nil
}

func (r memSeqs) UpdateStatus(ctx context.Context, key model.InboxKey, seqIDs []int64, status model.SeqStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inbox := r.s.seqByInbox[key]
	for _, id := range seqIDs {
		if sq, ok := inbox[id]; ok {
			sq.Status = status
			sq.UpdatedAt = time.Now()
		}
	}
	return nil
}

func (r memSeqs) MoveReceiveListUser(ctx context.Context, senderMessageID, uid string, to model.SeqStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	master, ok := r.s.seqByMsgID[senderMessageID]
	if !ok || master.ReceiveList == nil {
		return nil
	}
	rl := master.ReceiveList
	rl.UnreadList = removeString(rl.UnreadList, uid)
	rl.SeenList = removeString(rl.SeenList, uid)
	rl.ReadList = removeString(rl.ReadList, uid)
	switch to {
	case model.SeqStatusSeen:
		rl.SeenList = append(rl.SeenList, uid)
	case model.SeqStatusRead:
		rl.ReadList = append(rl.ReadList, uid)
	default:
		rl.UnreadList = append(rl.UnreadList, uid)
	}
	master.UpdatedAt = time.Now()
	return nil
}

func removeString(list []string, v string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

// ---- OutboxRepo ----

type memOutbox struct{ s *MemStore }

func (r memOutbox) Append(ctx context.Context, o *model.DispatchOutbox) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *o
	r.s.outbox = append(r.s.outbox, &cp)
	return nil
}

func (r memOutbox) PollPending(ctx context.Context, limit int) ([]*model.DispatchOutbox, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]*model.DispatchOutbox, 0, limit)
	for _, o := range r.s.outbox {
		if o.State != model.OutboxStatePending {
			continue
		}
		cp := *o
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r memOutbox) MarkSent(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	now := time.Now()
	for _, o := range r.s.outbox {
		if o.ID == id {
			o.State = model.OutboxStateSent
			o.SentAt = &now
		}
	}
	return nil
}

// ---- GroupMemberRepo ----

type memMembers struct{ s *MemStore }

func (r memMembers) ListActiveMembers(ctx context.Context, groupID string) ([]GroupMember, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	ms := r.s.members[groupID]
	out := make([]GroupMember, len(ms))
	copy(out, ms)
	return out, nil
}
