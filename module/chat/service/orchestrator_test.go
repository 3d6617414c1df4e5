package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MagicChat/module/chat/fanout"
	"MagicChat/module/chat/model"
	"MagicChat/module/chat/repo"
	"MagicChat/module/chat/seq"
	"MagicChat/module/chat/stream"
	"MagicChat/tools/errs"
)

type nopPusher struct{}

func (nopPusher) PushOnline(ctx context.Context, recipientID string, cs *model.ClientSeq) {}

type fixture struct {
	store *repo.MemStore
	orch  *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repo.NewMemStore()
	alloc := seq.NewMemAllocator()
	directory := NewDirectory(store.Conversations(), store.Topics())
	gate := NewAuthGate(store.Messages())
	asm := stream.NewAssembler(stream.NewMemCache(), stream.NewLocalLocker(),
		store.Messages(), store.Seqs())
	engine := fanout.NewEngine(store.Seqs(), store.Messages(), store.GroupMembers(),
		alloc, directory, nopPusher{})
	orch := NewOrchestrator(store.Conversations(), store.Messages(), store.Seqs(),
		store.Outbox(), store.GroupMembers(), alloc, directory, gate, asm, engine,
		NopFileService{})
	return &fixture{store: store, orch: orch}
}

func caller(uid string) Caller {
	return Caller{UserID: uid, OrganizationCode: "org1"}
}

func textReq(receiveID string, receiveType model.ConversationType, appID, text string) *SendMessageReq {
	return &SendMessageReq{
		ReceiveID:               receiveID,
		ReceiveType:             receiveType,
		ReceiveOrganizationCode: "org1",
		AppMessageID:            appID,
		Content:                 &model.TextContent{Content: text},
	}
}

func (f *fixture) inbox(t *testing.T, uid string, objType model.ConversationType) []*model.Seq {
	t.Helper()
	rows, err := f.store.Seqs().ListInbox(context.Background(), model.InboxKey{
		OrganizationCode: "org1",
		ObjectType:       objType,
		ObjectID:         uid,
	}, 0, 100)
	require.NoError(t, err)
	return rows
}

func errCode(t *testing.T, err error) int {
	t.Helper()
	require.Error(t, err)
	code, _, _ := errs.Unwrap(err)
	return code
}

func TestSendFirstContactWithAI(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cs, err := f.orch.SendChatMessage(ctx, caller("u1"), textReq("ai1", model.ConversationTypeAi, "app1", "hello"))
	require.NoError(t, err)

	// 发件方主 seq
	assert.Equal(t, int64(1), cs.Seq.SeqID)
	assert.Equal(t, model.SeqStatusRead, cs.Seq.Status)
	assert.Empty(t, cs.Seq.SenderMessageID, "主 seq 不回指任何人")
	require.NotNil(t, cs.Seq.ReceiveList)
	assert.Equal(t, []string{"ai1"}, cs.Seq.ReceiveList.UnreadList)
	require.NotNil(t, cs.Message)

	// 助理会话首次接触自动建话题
	require.NotNil(t, cs.Seq.Extra)
	assert.NotEmpty(t, cs.Seq.Extra.TopicID)

	// 双向会话窗口
	own, err := f.store.Conversations().GetByUserAndReceive(ctx, "u1", "ai1")
	require.NoError(t, err)
	require.NotNil(t, own)
	reverse, err := f.store.Conversations().GetByUserAndReceive(ctx, "ai1", "u1")
	require.NoError(t, err)
	require.NotNil(t, reverse)

	// 单聊同步扇出: 接收方立即拿到 seq 1,指向同一条消息
	rows := f.inbox(t, "ai1", model.ConversationTypeAi)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].SeqID)
	assert.Equal(t, cs.Seq.MagicMessageID, rows[0].MagicMessageID)
	assert.Equal(t, cs.Seq.MessageID, rows[0].SenderMessageID)
	assert.Equal(t, model.SeqStatusUnread, rows[0].Status)

	// 扇出意图已消化
	pending, err := f.store.Outbox().PollPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSendToDeletedConversation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cs, err := f.orch.SendChatMessage(ctx, caller("u1"), textReq("u2", model.ConversationTypeUser, "app1", "hi"))
	require.NoError(t, err)
	f.store.SetConversationStatus(cs.Seq.ConversationID, model.ConversationStatusDeleted)

	_, err = f.orch.SendChatMessage(ctx, caller("u1"), &SendMessageReq{
		ConversationID: cs.Seq.ConversationID,
		AppMessageID:   "app2",
		Content:        &model.TextContent{Content: "late"},
	})
	assert.Equal(t, errs.ConversationDeletedCode, errCode(t, err))

	// 失败的发送不产生任何写入
	assert.Len(t, f.inbox(t, "u1", model.ConversationTypeUser), 1)
	assert.Len(t, f.inbox(t, "u2", model.ConversationTypeUser), 1)
}

func TestSendIntoForeignConversationDenied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cs, err := f.orch.SendChatMessage(ctx, caller("u1"), textReq("u2", model.ConversationTypeUser, "app1", "hi"))
	require.NoError(t, err)

	_, err = f.orch.SendChatMessage(ctx, caller("u3"), &SendMessageReq{
		ConversationID: cs.Seq.ConversationID,
		AppMessageID:   "app2",
		Content:        &model.TextContent{Content: "intrude"},
	})
	assert.Equal(t, errs.AuthorizationDeniedCode, errCode(t, err))
}

func TestSendUnsupportedConversationType(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.SendChatMessage(context.Background(), caller("u1"),
		textReq("sys1", model.ConversationTypeSystem, "app1", "hi"))
	assert.Equal(t, errs.ConversationTypeUnsupportedCode, errCode(t, err))
}

func TestSendControlContentRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.SendChatMessage(context.Background(), caller("u1"), &SendMessageReq{
		ReceiveID:   "u2",
		ReceiveType: model.ConversationTypeUser,
		Content:     &model.ControlContent{Kind: model.MessageTypeSeenMessages},
	})
	assert.Equal(t, errs.MessageTypeErrorCode, errCode(t, err))
}

func TestSendIdempotentByAppMessageID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.orch.SendChatMessage(ctx, caller("u1"), textReq("u2", model.ConversationTypeUser, "app1", "hi"))
	require.NoError(t, err)
	replay, err := f.orch.SendChatMessage(ctx, caller("u1"), textReq("u2", model.ConversationTypeUser, "app1", "hi"))
	require.NoError(t, err)

	assert.Equal(t, first.Seq.ID, replay.Seq.ID, "重放返回首次的主 seq")
	assert.Equal(t, first.Message.MagicMessageID, replay.Message.MagicMessageID)
	assert.Len(t, f.inbox(t, "u1", model.ConversationTypeUser), 1)
	assert.Len(t, f.inbox(t, "u2", model.ConversationTypeUser), 1)
}

func TestGroupFanoutGoesThroughQueue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.store.PutGroupMembers("g1", []repo.GroupMember{
		{UserID: "u1", OrganizationCode: "org1"},
		{UserID: "u2", OrganizationCode: "org1"},
		{UserID: "u3", OrganizationCode: "org1"},
	})

	cs, err := f.orch.SendChatMessage(ctx, caller("u1"), textReq("g1", model.ConversationTypeGroup, "app1", "all"))
	require.NoError(t, err)
	assert.Equal(t, []string{"u2", "u3"}, cs.Seq.ReceiveList.UnreadList)

	// 群聊不同步扇出,意图留给队列
	assert.Empty(t, f.inbox(t, "u2", model.ConversationTypeUser))
	pending, err := f.store.Outbox().PollPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, int32(fanout.PriorityHigh), pending[0].Priority)
	assert.Equal(t, cs.Seq.ID, pending[0].SenderSeqID)
}

func TestEditKeepsHistoryAndFansOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sent, err := f.orch.SendChatMessage(ctx, caller("u1"), textReq("u2", model.ConversationTypeUser, "app1", "original"))
	require.NoError(t, err)

	edited, err := f.orch.EditMessage(ctx, caller("u1"), sent.Seq.ConversationID,
		sent.Message.MagicMessageID, &model.TextContent{Content: "edited"})
	require.NoError(t, err)

	// 版本追加,指针移动
	versions, err := f.store.Messages().ListVersions(ctx, sent.Message.MagicMessageID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	msg, err := f.store.Messages().GetByMagicMessageID(ctx, sent.Message.MagicMessageID)
	require.NoError(t, err)
	assert.Equal(t, versions[0].VersionID, msg.CurrentVersionID)

	// 编辑事件携带目标与版本
	require.NotNil(t, edited.Seq.Extra)
	require.NotNil(t, edited.Seq.Extra.EditMessageOptions)
	assert.Equal(t, sent.Message.MagicMessageID, edited.Seq.Extra.EditMessageOptions.MagicMessageID)
	assert.Equal(t, versions[0].VersionID, edited.Seq.Extra.EditMessageOptions.MessageVersionID)

	// 接收方: 原副本内容被刷新,另收到一条编辑事件副本
	rows := f.inbox(t, "u2", model.ConversationTypeUser)
	require.Len(t, rows, 2)
	content, err := model.DecodeContent(model.MessageTypeText, rows[0].Content)
	require.NoError(t, err)
	assert.Equal(t, "edited", content.(*model.TextContent).Content)
}

func TestEditForeignMessageDenied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sent, err := f.orch.SendChatMessage(ctx, caller("u1"), textReq("u2", model.ConversationTypeUser, "app1", "hi"))
	require.NoError(t, err)

	// 对端在自己的窗口里试图编辑别人的消息
	reverse, err := f.store.Conversations().GetByUserAndReceive(ctx, "u2", "u1")
	require.NoError(t, err)
	_, err = f.orch.EditMessage(ctx, caller("u2"), reverse.ID,
		sent.Message.MagicMessageID, &model.TextContent{Content: "hijack"})
	assert.Equal(t, errs.AuthorizationDeniedCode, errCode(t, err))
}

func TestTopicRequiredWhenOnlyAnchoredTopics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first := textReq("ai1", model.ConversationTypeAi, "app1", "hello")
	first.AnchorMessageID = "anchor1"
	cs, err := f.orch.SendChatMessage(ctx, caller("u1"), first)
	require.NoError(t, err)
	assert.NotEmpty(t, cs.Seq.Extra.TopicID)

	// 会话里只有带锚点的话题,调用方什么都不给属于歧义
	_, err = f.orch.SendChatMessage(ctx, caller("u1"), textReq("ai1", model.ConversationTypeAi, "app2", "next"))
	assert.Equal(t, errs.TopicRequiredCode, errCode(t, err))

	// 显式给出话题就没有歧义
	explicit := textReq("ai1", model.ConversationTypeAi, "app3", "next")
	explicit.TopicID = cs.Seq.Extra.TopicID
	again, err := f.orch.SendChatMessage(ctx, caller("u1"), explicit)
	require.NoError(t, err)
	assert.Equal(t, cs.Seq.Extra.TopicID, again.Seq.Extra.TopicID)
}

func TestStreamSendEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	req := &SendMessageReq{
		ReceiveID:               "u2",
		ReceiveType:             model.ConversationTypeUser,
		ReceiveOrganizationCode: "org1",
		AppMessageID:            "stream1",
	}
	start, err := f.orch.SendStreamChunk(ctx, caller("u1"), req, "Hel", stream.OffsetUnknown, model.StreamStatusStart)
	require.NoError(t, err)
	assert.Equal(t, int64(1), start.Seq.SeqID)

	_, err = f.orch.SendStreamChunk(ctx, caller("u1"), req, "lo, ", stream.OffsetUnknown, model.StreamStatusAppending)
	require.NoError(t, err)
	final, err := f.orch.SendStreamChunk(ctx, caller("u1"), req, "world", stream.OffsetUnknown, model.StreamStatusEnd)
	require.NoError(t, err)

	// 分片不产生新的 seq,终结后全量内容可见
	assert.Equal(t, start.Seq.ID, final.Seq.ID)
	content, err := model.DecodeContent(model.MessageTypeText, final.Message.Content)
	require.NoError(t, err)
	tc := content.(*model.TextContent)
	assert.Equal(t, "Hello, world", tc.Content)
	assert.Equal(t, model.StreamStatusEnd, tc.StreamOptions.Status)

	// 接收副本同样只有一条,内容同步刷新
	rows := f.inbox(t, "u2", model.ConversationTypeUser)
	require.Len(t, rows, 1)
	assert.Equal(t, final.Message.Content, rows[0].Content)

	// 流已销毁,迟到分片报错
	_, err = f.orch.SendStreamChunk(ctx, caller("u1"), req, "late", stream.OffsetUnknown, model.StreamStatusAppending)
	assert.Equal(t, errs.MessageNotFoundCode, errCode(t, err))
}

func TestPullPagination(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	apps := []string{"a1", "a2", "a3", "a4", "a5"}
	for _, id := range apps {
		_, err := f.orch.SendChatMessage(ctx, caller("u1"), textReq("u2", model.ConversationTypeUser, id, "msg "+id))
		require.NoError(t, err)
	}

	// 接收方按游标翻页
	page1, err := f.orch.PullByPageToken(ctx, caller("u2"), "", 2)
	require.NoError(t, err)
	require.Len(t, page1.Items, 2)
	assert.True(t, page1.HasMore)
	require.NotNil(t, page1.Items[0].Message, "拉取结果必须带消息本体")
	assert.Equal(t, int64(1), page1.Items[0].Seq.SeqID)
	assert.Equal(t, int64(2), page1.Items[1].Seq.SeqID)

	page2, err := f.orch.PullByPageToken(ctx, caller("u2"), page1.PageToken, 2)
	require.NoError(t, err)
	require.Len(t, page2.Items, 2)
	assert.True(t, page2.HasMore)
	assert.Equal(t, int64(3), page2.Items[0].Seq.SeqID)

	page3, err := f.orch.PullByPageToken(ctx, caller("u2"), page2.PageToken, 2)
	require.NoError(t, err)
	require.Len(t, page3.Items, 1)
	assert.False(t, page3.HasMore)

	_, err = f.orch.PullByPageToken(ctx, caller("u2"), "not-a-token", 2)
	require.Error(t, err)
}

func TestGetMessagesByConversation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var convID string
	for _, id := range []string{"a1", "a2", "a3"} {
		cs, err := f.orch.SendChatMessage(ctx, caller("u1"), textReq("u2", model.ConversationTypeUser, id, "msg "+id))
		require.NoError(t, err)
		convID = cs.Seq.ConversationID
	}

	page, err := f.orch.GetMessagesByConversation(ctx, caller("u1"), &ConversationMessagesReq{
		ConversationID: convID,
		PageSize:       10,
	})
	require.NoError(t, err)
	assert.Len(t, page.Items, 3)

	// 别人的会话拉不动
	_, err = f.orch.GetMessagesByConversation(ctx, caller("u3"), &ConversationMessagesReq{
		ConversationID: convID,
	})
	assert.Equal(t, errs.AuthorizationDeniedCode, errCode(t, err))
}

func TestMarkSeqStatusNotifiesSender(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sent, err := f.orch.SendChatMessage(ctx, caller("u1"), textReq("u2", model.ConversationTypeUser, "app1", "hi"))
	require.NoError(t, err)

	copies := f.inbox(t, "u2", model.ConversationTypeUser)
	require.Len(t, copies, 1)

	require.NoError(t, f.orch.MarkSeqStatus(ctx, caller("u2"), []string{copies[0].ID}, model.SeqStatusSeen))

	// 副本状态翻转
	updated, err := f.store.Seqs().GetByID(ctx, copies[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.SeqStatusSeen, updated.Status)

	// 主 seq 的接收名单里 u2 挪档
	master, err := f.store.Seqs().GetByID(ctx, sent.Seq.ID)
	require.NoError(t, err)
	assert.Empty(t, master.ReceiveList.UnreadList)
	assert.Equal(t, []string{"u2"}, master.ReceiveList.SeenList)

	// 发件方收件箱多出一条 seen_messages 控制 seq
	senderRows := f.inbox(t, "u1", model.ConversationTypeUser)
	require.Len(t, senderRows, 2)
	control := senderRows[1]
	assert.Equal(t, model.MessageTypeSeenMessages, control.SeqType)
	assert.Equal(t, copies[0].SenderMessageID, control.ReferMessageID)

	// 别人的副本标不动
	err = f.orch.MarkSeqStatus(ctx, caller("u3"), []string{copies[0].ID}, model.SeqStatusRead)
	assert.Equal(t, errs.AuthorizationDeniedCode, errCode(t, err))
}

func TestAgentSendRequiresTopicForPrivateChat(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// 助理私聊用户,不带话题直接拒绝
	_, err := f.orch.AgentSendMessage(ctx, caller("ai1"), textReq("u2", model.ConversationTypeUser, "app1", "hi"))
	assert.Equal(t, errs.TopicRequiredCode, errCode(t, err))

	// 带话题后同一条流水线走通
	req := textReq("u2", model.ConversationTypeUser, "app2", "hi again")
	req.TopicID = "topic1"
	cs, err := f.orch.AgentSendMessage(ctx, caller("ai1"), req)
	require.NoError(t, err)
	assert.Equal(t, model.ConversationTypeAi, cs.Message.SenderType)
	require.NotNil(t, cs.Seq.Extra)
	assert.Equal(t, "topic1", cs.Seq.Extra.TopicID)

	// 对端窗口是 AI 类型,用户侧立刻有副本
	reverse, err := f.store.Conversations().GetByUserAndReceive(ctx, "u2", "ai1")
	require.NoError(t, err)
	require.NotNil(t, reverse)
	assert.Equal(t, model.ConversationTypeAi, reverse.ReceiveType)

	copies := f.inbox(t, "u2", model.ConversationTypeUser)
	require.Len(t, copies, 1)
	assert.Equal(t, cs.Seq.MessageID, copies[0].SenderMessageID)
}

func TestStreamChunkRedeliveryKeepsContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	req := &SendMessageReq{
		ReceiveID:               "u2",
		ReceiveType:             model.ConversationTypeUser,
		ReceiveOrganizationCode: "org1",
		AppMessageID:            "stream1",
	}
	_, err := f.orch.SendStreamChunk(ctx, caller("u1"), req, "Hel", stream.OffsetUnknown, model.StreamStatusStart)
	require.NoError(t, err)

	// 同一分片重投递两次
	_, err = f.orch.SendStreamChunk(ctx, caller("u1"), req, "lo", stream.OffsetUnknown, model.StreamStatusAppending)
	require.NoError(t, err)
	_, err = f.orch.SendStreamChunk(ctx, caller("u1"), req, "lo", stream.OffsetUnknown, model.StreamStatusAppending)
	require.NoError(t, err)

	final, err := f.orch.SendStreamChunk(ctx, caller("u1"), req, "", stream.OffsetUnknown, model.StreamStatusEnd)
	require.NoError(t, err)
	content, err := model.DecodeContent(model.MessageTypeText, final.Message.Content)
	require.NoError(t, err)
	assert.Equal(t, "Hello", content.(*model.TextContent).Content, "重投递不得翻倍内容")
}

func TestStreamChunkFromStrangerDenied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	req := &SendMessageReq{
		ReceiveID:               "u2",
		ReceiveType:             model.ConversationTypeUser,
		ReceiveOrganizationCode: "org1",
		AppMessageID:            "stream1",
	}
	_, err := f.orch.SendStreamChunk(ctx, caller("u1"), req, "Hel", stream.OffsetUnknown, model.StreamStatusStart)
	require.NoError(t, err)

	// 外人拿着 app_message_id 既注入不了内容,也强制收不了尾
	_, err = f.orch.SendStreamChunk(ctx, caller("u9"), req, "EVIL", stream.OffsetUnknown, model.StreamStatusEnd)
	assert.Equal(t, errs.AuthorizationDeniedCode, errCode(t, err))

	// 归属者照常收尾,内容未被污染
	final, err := f.orch.SendStreamChunk(ctx, caller("u1"), req, "lo", stream.OffsetUnknown, model.StreamStatusEnd)
	require.NoError(t, err)
	content, err := model.DecodeContent(model.MessageTypeText, final.Message.Content)
	require.NoError(t, err)
	assert.Equal(t, "Hello", content.(*model.TextContent).Content)
}

func TestAgentCannotDriveForeignUserConversation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// u1 和 u2 的私聊会话
	_, err := f.orch.SendChatMessage(ctx, caller("u1"), textReq("u2", model.ConversationTypeUser, "app1", "hi"))
	require.NoError(t, err)
	conv, err := f.store.Conversations().GetByUserAndReceive(ctx, "u1", "u2")
	require.NoError(t, err)
	require.NotNil(t, conv)

	// 助理身份不放宽归属校验,塞不进别人的会话
	req := &SendMessageReq{
		ConversationID: conv.ID,
		TopicID:        "t1",
		AppMessageID:   "app2",
		Content:        &model.TextContent{Content: "EVIL"},
	}
	_, err = f.orch.AgentSendMessage(ctx, caller("agent9"), req)
	assert.Equal(t, errs.AuthorizationDeniedCode, errCode(t, err))

	// 会话里没有多出任何写入
	rows := f.inbox(t, "u2", model.ConversationTypeUser)
	require.Len(t, rows, 1)
}
