package fanout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MagicChat/module/chat/model"
	"MagicChat/module/chat/repo"
	"MagicChat/module/chat/seq"
)

// stubResolver 幂等建接收方会话窗口,测试用
type stubResolver struct {
	convs repo.ConversationRepo
}

func (r stubResolver) GetOrCreate(ctx context.Context, userID, userOrg string, receiveID, receiveOrg string, receiveType model.ConversationType) (*model.Conversation, error) {
	if c, err := r.convs.GetByUserAndReceive(ctx, userID, receiveID); err != nil || c != nil {
		return c, err
	}
	now := time.Now()
	return r.convs.Create(ctx, &model.Conversation{
		ID:                      userID + "->" + receiveID,
		UserID:                  userID,
		ReceiveID:               receiveID,
		ReceiveType:             receiveType,
		UserOrganizationCode:    userOrg,
		ReceiveOrganizationCode: receiveOrg,
		Status:                  model.ConversationStatusNormal,
		CreatedAt:               now,
	})
}

type recordPusher struct {
	mu     sync.Mutex
	pushed []string
}

func (p *recordPusher) PushOnline(ctx context.Context, recipientID string, cs *model.ClientSeq) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushed = append(p.pushed, recipientID)
}

func (p *recordPusher) ids() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.pushed...)
}

type engineFixture struct {
	store  *repo.MemStore
	pusher *recordPusher
	engine *Engine
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	store := repo.NewMemStore()
	pusher := &recordPusher{}
	engine := NewEngine(store.Seqs(), store.Messages(), store.GroupMembers(),
		seq.NewMemAllocator(), stubResolver{store.Conversations()}, pusher)
	return &engineFixture{store: store, pusher: pusher, engine: engine}
}

// seedSend 造一条已提交的发件事务: 消息 + 发件方主 seq
func (f *engineFixture) seedSend(t *testing.T, receiveID string, receiveType model.ConversationType) *model.Seq {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, f.store.Messages().Create(ctx, &model.Message{
		MagicMessageID:          "m1",
		AppMessageID:            "app1",
		SenderID:                "u1",
		SenderType:              model.ConversationTypeUser,
		SenderOrganizationCode:  "org1",
		ReceiveID:               receiveID,
		ReceiveType:             receiveType,
		ReceiveOrganizationCode: "org1",
		MessageType:             model.MessageTypeText,
		Content:                 `{"content":"hi"}`,
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
		Content:          `{"content":"hi"}`,
		MagicMessageID:   "m1",
		MessageID:        "sm1",
		ConversationID:   "u1->" + receiveID,
		Status:           model.SeqStatusRead,
		AppMessageID:     "app1",
		CreatedAt:        now,
	}
	require.NoError(t, f.store.Seqs().Insert(ctx, senderSeq))
	return senderSeq
}

func (f *engineFixture) inbox(t *testing.T, uid string, objType model.ConversationType) []*model.Seq {
	t.Helper()
	rows, err := f.store.Seqs().ListInbox(context.Background(), model.InboxKey{
		OrganizationCode: "org1",
		ObjectType:       objType,
		ObjectID:         uid,
	}, 0, 100)
	require.NoError(t, err)
	return rows
}

func TestDispatchDirect(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	senderSeq := f.seedSend(t, "u2", model.ConversationTypeUser)

	require.NoError(t, f.engine.Dispatch(ctx, senderSeq))

	rows := f.inbox(t, "u2", model.ConversationTypeUser)
	require.Len(t, rows, 1)
	copySeq := rows[0]
	assert.Equal(t, int64(1), copySeq.SeqID)
	assert.Equal(t, "m1", copySeq.MagicMessageID)
	assert.Equal(t, "sm1", copySeq.SenderMessageID, "副本必须回指发件方 message_id")
	assert.Equal(t, model.SeqStatusUnread, copySeq.Status)
	assert.NotEqual(t, senderSeq.MessageID, copySeq.MessageID, "副本有自己的 message_id")

	// 接收方拿到指向发送者的会话窗口
	conv, err := f.store.Conversations().GetByUserAndReceive(ctx, "u2", "u1")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, model.ConversationTypeUser, conv.ReceiveType)

	assert.Equal(t, []string{"u2"}, f.pusher.ids())
}

func TestDispatchGroupSkipsSenderAndMuted(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.store.PutGroupMembers("g1", []repo.GroupMember{
		{UserID: "u1", OrganizationCode: "org1"},
		{UserID: "u2", OrganizationCode: "org1"},
		{UserID: "u3", OrganizationCode: "org1", Muted: true},
	})
	senderSeq := f.seedSend(t, "g1", model.ConversationTypeGroup)

	require.NoError(t, f.engine.Dispatch(ctx, senderSeq))

	// 发送者收件箱里只有播种的主 seq,没有长出回指自己的副本
	senderRows := f.inbox(t, "u1", model.ConversationTypeUser)
	require.Len(t, senderRows, 1, "发送者不收自己的副本")
	assert.Empty(t, senderRows[0].SenderMessageID)
	require.Len(t, f.inbox(t, "u2", model.ConversationTypeUser), 1)
	require.Len(t, f.inbox(t, "u3", model.ConversationTypeUser), 1, "免打扰仍然写扩散")

	// 群聊副本的会话窗口指向群
	conv, err := f.store.Conversations().GetByUserAndReceive(ctx, "u2", "g1")
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, model.ConversationTypeGroup, conv.ReceiveType)

	assert.Equal(t, []string{"u2"}, f.pusher.ids(), "免打扰成员不做在线推送")
}

func TestDispatchReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	f.store.PutGroupMembers("g1", []repo.GroupMember{
		{UserID: "u2", OrganizationCode: "org1"},
		{UserID: "u3", OrganizationCode: "org1"},
	})
	senderSeq := f.seedSend(t, "g1", model.ConversationTypeGroup)

	require.NoError(t, f.engine.Dispatch(ctx, senderSeq))
	require.NoError(t, f.engine.Dispatch(ctx, senderSeq))

	assert.Len(t, f.inbox(t, "u2", model.ConversationTypeUser), 1, "重放不得产生第二条副本")
	assert.Len(t, f.inbox(t, "u3", model.ConversationTypeUser), 1)
	assert.Equal(t, []string{"u2", "u3"}, f.pusher.ids(), "重放不重复推送")
}

func TestDispatchUnsupportedReceiveType(t *testing.T) {
	ctx := context.Background()
	f := newEngineFixture(t)
	senderSeq := f.seedSend(t, "doc1", model.ConversationTypeCloudDocument)

	err := f.engine.Dispatch(ctx, senderSeq)
	require.Error(t, err)
}
