package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MagicChat/module/chat/fanout"
	"MagicChat/module/chat/model"
	"MagicChat/module/chat/repo"
	"MagicChat/module/chat/seq"
	"MagicChat/tools/errs"
)

type nopPusher struct{}

func (nopPusher) PushOnline(ctx context.Context, recipientID string, cs *model.ClientSeq) {}

type passResolver struct {
	convs repo.ConversationRepo
}

func (r passResolver) GetOrCreate(ctx context.Context, userID, userOrg string, receiveID, receiveOrg string, receiveType model.ConversationType) (*model.Conversation, error) {
	if c, err := r.convs.GetByUserAndReceive(ctx, userID, receiveID); err != nil || c != nil {
		return c, err
	}
	return r.convs.Create(ctx, &model.Conversation{
		ID:          userID + "->" + receiveID,
		UserID:      userID,
		ReceiveID:   receiveID,
		ReceiveType: receiveType,
		Status:      model.ConversationStatusNormal,
		CreatedAt:   time.Now(),
	})
}

// laggedSeqs 模拟主从延迟: 前 lag 次查询看不到已提交的 seq
type laggedSeqs struct {
	repo.SeqRepo
	mu    sync.Mutex
	lag   int
	calls int
}

func (l *laggedSeqs) GetByID(ctx context.Context, id string) (*model.Seq, error) {
	l.mu.Lock()
	l.calls++
	visible := l.calls > l.lag
	l.mu.Unlock()
	if !visible {
		return nil, nil
	}
	return l.SeqRepo.GetByID(ctx, id)
}

type consumerFixture struct {
	store    *repo.MemStore
	consumer *Consumer
}

func newConsumerFixture(t *testing.T, seqs repo.SeqRepo) *consumerFixture {
	t.Helper()
	store := repo.NewMemStore()
	if seqs == nil {
		seqs = store.Seqs()
	}
	engine := fanout.NewEngine(store.Seqs(), store.Messages(), store.GroupMembers(),
		seq.NewMemAllocator(), passResolver{store.Conversations()}, nopPusher{})
	c := NewConsumer(seqs, engine)
	c.backoff = time.Millisecond
	return &consumerFixture{store: store, consumer: c}
}

func (f *consumerFixture) seedGroupSend(t *testing.T) *model.Seq {
	t.Helper()
	ctx := context.Background()
	f.store.PutGroupMembers("g1", []repo.GroupMember{
		{UserID: "u2", OrganizationCode: "org1"},
		{UserID: "u3", OrganizationCode: "org1"},
	})
	now := time.Now()
	require.NoError(t, f.store.Messages().Create(ctx, &model.Message{
		MagicMessageID:          "m1",
		SenderID:                "u1",
		SenderType:              model.ConversationTypeUser,
		SenderOrganizationCode:  "org1",
		ReceiveID:               "g1",
		ReceiveType:             model.ConversationTypeGroup,
		ReceiveOrganizationCode: "org1",
		MessageType:             model.MessageTypeText,
		Content:                 `{"content":"all"}`,
		SendTime:                now,
		CreatedAt:               now,
	}))
	senderSeq := &model.Seq{
		ID:               "sender-row",
		OrganizationCode: "org1",
		ObjectType:       model.ConversationTypeUser,
		ObjectID:         "u1",
		SeqID:            1,
		SeqType:          model.MessageTypeText,
		Content:          `{"content":"all"}`,
		MagicMessageID:   "m1",
		MessageID:        "sm1",
		ConversationID:   "u1->g1",
		Status:           model.SeqStatusRead,
		CreatedAt:        now,
	}
	require.NoError(t, f.store.Seqs().Insert(ctx, senderSeq))
	return senderSeq
}

func (f *consumerFixture) inboxLen(t *testing.T, uid string) int {
	t.Helper()
	rows, err := f.store.Seqs().ListInbox(context.Background(), model.InboxKey{
		OrganizationCode: "org1",
		ObjectType:       model.ConversationTypeUser,
		ObjectID:         uid,
	}, 0, 100)
	require.NoError(t, err)
	return len(rows)
}

func TestProcessDeliversGroupFanout(t *testing.T) {
	f := newConsumerFixture(t, nil)
	senderSeq := f.seedGroupSend(t)

	err := f.consumer.Process(context.Background(), &Event{ID: "ob1", SenderSeqID: senderSeq.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, f.inboxLen(t, "u2"))
	assert.Equal(t, 1, f.inboxLen(t, "u3"))
}

func TestProcessRetriesUntilSeqVisible(t *testing.T) {
	store := repo.NewMemStore()
	lagged := &laggedSeqs{SeqRepo: store.Seqs(), lag: 2}
	f := &consumerFixture{store: store}
	engine := fanout.NewEngine(store.Seqs(), store.Messages(), store.GroupMembers(),
		seq.NewMemAllocator(), passResolver{store.Conversations()}, nopPusher{})
	f.consumer = NewConsumer(lagged, engine)
	f.consumer.backoff = time.Millisecond

	senderSeq := f.seedGroupSend(t)

	// 事件先于发件事务可见性到达,退避重查后成功
	err := f.consumer.Process(context.Background(), &Event{ID: "ob1", SenderSeqID: senderSeq.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, f.inboxLen(t, "u2"))
}

func TestProcessGivesUpWhenSeqNeverVisible(t *testing.T) {
	f := newConsumerFixture(t, nil)

	err := f.consumer.Process(context.Background(), &Event{ID: "ob1", SenderSeqID: "missing"})
	require.Error(t, err)
	code, _, _ := errs.Unwrap(err)
	assert.Equal(t, errs.FanoutPartialFailureCode, code, "重试耗尽按扇出失败上报")
}

func TestProcessReplayIsIdempotent(t *testing.T) {
	f := newConsumerFixture(t, nil)
	senderSeq := f.seedGroupSend(t)

	ev := &Event{ID: "ob1", SenderSeqID: senderSeq.ID}
	require.NoError(t, f.consumer.Process(context.Background(), ev))
	require.NoError(t, f.consumer.Process(context.Background(), ev))
	assert.Equal(t, 1, f.inboxLen(t, "u2"), "至少一次投递靠唯一索引兜底")
}

// syncQueue 同步消化事件,测试里替代 kafka
type syncQueue struct {
	consumer *Consumer
}

func (q syncQueue) Enqueue(ctx context.Context, ev *Event) error {
	return q.consumer.Process(ctx, ev)
}

func TestPollerDrainsOutbox(t *testing.T) {
	ctx := context.Background()
	f := newConsumerFixture(t, nil)
	senderSeq := f.seedGroupSend(t)

	require.NoError(t, f.store.Outbox().Append(ctx, &model.DispatchOutbox{
		ID:               "ob1",
		OrganizationCode: "org1",
		SenderSeqID:      senderSeq.ID,
		ConversationID:   senderSeq.ConversationID,
		ReceiveType:      model.ConversationTypeGroup,
		Priority:         int32(fanout.PriorityHigh),
		State:            model.OutboxStatePending,
		CreatedAt:        time.Now(),
	}))

	poller := NewPoller(f.store.Outbox(), syncQueue{f.consumer})
	poller.Drain(ctx)

	assert.Equal(t, 1, f.inboxLen(t, "u2"))
	assert.Equal(t, 1, f.inboxLen(t, "u3"))
	pending, err := f.store.Outbox().PollPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "入队成功后意图标记为已发")
}

func TestHandleSwallowsUndecodableEvent(t *testing.T) {
	f := newConsumerFixture(t, nil)
	assert.NoError(t, f.consumer.Handle("chat.dispatch.p1", nil, []byte("not json")),
		"坏事件不回滚位点")
}

func TestEventRoundTrip(t *testing.T) {
	ev := &Event{ID: "ob1", SenderSeqID: "s1", Priority: 2}
	raw, err := ev.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"sender_seq_id":"s1"`)
}
