package stream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MagicChat/module/chat/model"
	"MagicChat/module/chat/repo"
	"MagicChat/tools/errs"
)

type assemblerFixture struct {
	store *repo.MemStore
	cache *MemCache
	asm   *Assembler
}

func newAssemblerFixture(t *testing.T) *assemblerFixture {
	t.Helper()
	store := repo.NewMemStore()
	cache := NewMemCache()
	return &assemblerFixture{
		store: store,
		cache: cache,
		asm:   NewAssembler(cache, NewLocalLocker(), store.Messages(), store.Seqs()),
	}
}

// seedStream 建好流式消息壳: 消息 + 发件方主 seq + 一个收件方副本
func (f *assemblerFixture) seedStream(t *testing.T, appMessageID, magicID, senderMessageID string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, f.store.Messages().Create(ctx, &model.Message{
		MagicMessageID: magicID,
		AppMessageID:   appMessageID,
		SenderID:       "u1",
		ReceiveID:      "ai1",
		ReceiveType:    model.ConversationTypeAi,
		MessageType:    model.MessageTypeText,
		SendTime:       now,
		CreatedAt:      now,
	}))
	require.NoError(t, f.store.Seqs().Insert(ctx, &model.Seq{
		ID:               "row-" + senderMessageID,
		OrganizationCode: "org1",
		ObjectType:       model.ConversationTypeUser,
		ObjectID:         "u1",
		SeqID:            1,
		SeqType:          model.MessageTypeText,
		MagicMessageID:   magicID,
		MessageID:        senderMessageID,
		Status:           model.SeqStatusRead,
		CreatedAt:        now,
	}))
	require.NoError(t, f.store.Seqs().Insert(ctx, &model.Seq{
		ID:               "row-copy-" + senderMessageID,
		OrganizationCode: "org1",
		ObjectType:       model.ConversationTypeAi,
		ObjectID:         "ai1",
		SeqID:            1,
		SeqType:          model.MessageTypeText,
		MagicMessageID:   magicID,
		MessageID:        "copy-" + senderMessageID,
		SenderMessageID:  senderMessageID,
		Status:           model.SeqStatusUnread,
		CreatedAt:        now,
	}))
}

func (f *assemblerFixture) begin(t *testing.T, appMessageID, magicID, senderMessageID, content string) {
	t.Helper()
	require.NoError(t, f.asm.Begin(context.Background(), &model.StreamCacheEntry{
		AppMessageID:     appMessageID,
		MagicMessageID:   magicID,
		SenderMessageID:  senderMessageID,
		SenderID:         "u1",
		OrganizationCode: "org1",
		Content:          content,
	}))
}

// apply 以流归属者 u1 的身份合入分片
func (f *assemblerFixture) apply(appMessageID, delta string, offset int64, status model.StreamStatus) (*model.StreamCacheEntry, bool, error) {
	return f.asm.Apply(context.Background(), &Chunk{
		AppMessageID:     appMessageID,
		SenderID:         "u1",
		OrganizationCode: "org1",
		Delta:            delta,
		Offset:           offset,
		Status:           status,
	})
}

func TestAssemblerStartAppendEnd(t *testing.T) {
	ctx := context.Background()
	f := newAssemblerFixture(t)
	f.seedStream(t, "app1", "m1", "sm1")
	f.begin(t, "app1", "m1", "sm1", "Hel")

	e, done, err := f.apply("app1", "lo, ", OffsetUnknown, model.StreamStatusAppending)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, "Hello, ", e.Content)

	e, done, err = f.apply("app1", "world", OffsetUnknown, model.StreamStatusEnd)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "Hello, world", e.Content)

	// 完整内容刷回消息本体
	msg, err := f.store.Messages().GetByMagicMessageID(ctx, "m1")
	require.NoError(t, err)
	content, err := model.DecodeContent(model.MessageTypeText, msg.Content)
	require.NoError(t, err)
	tc := content.(*model.TextContent)
	assert.Equal(t, "Hello, world", tc.Content)
	require.NotNil(t, tc.StreamOptions)
	assert.Equal(t, model.StreamStatusEnd, tc.StreamOptions.Status)

	// 发件方主 seq 与收件副本同步刷新
	for _, rowID := range []string{"row-sm1", "row-copy-sm1"} {
		sq, err := f.store.Seqs().GetByID(ctx, rowID)
		require.NoError(t, err)
		assert.Equal(t, msg.Content, sq.Content)
	}

	// 终结后缓存销毁
	cached, err := f.cache.Get(ctx, "app1")
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestAssemblerRedeliveredChunkMergesOnce(t *testing.T) {
	f := newAssemblerFixture(t)
	f.seedStream(t, "app1", "m1", "sm1")
	f.begin(t, "app1", "m1", "sm1", "Hel")

	// 同一分片投递两次,第二次按重放丢弃
	e, _, err := f.apply("app1", "lo", OffsetUnknown, model.StreamStatusAppending)
	require.NoError(t, err)
	assert.Equal(t, "Hello", e.Content)

	e, _, err = f.apply("app1", "lo", OffsetUnknown, model.StreamStatusAppending)
	require.NoError(t, err)
	assert.Equal(t, "Hello", e.Content, "重投递不得翻倍累积内容")

	// 重放收尾也只合入一次
	e, done, err := f.apply("app1", "!", OffsetUnknown, model.StreamStatusEnd)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "Hello!", e.Content)
}

func TestAssemblerOffsetReplayLastWriteWins(t *testing.T) {
	f := newAssemblerFixture(t)
	f.seedStream(t, "app1", "m1", "sm1")
	f.begin(t, "app1", "m1", "sm1", "Hel")

	e, _, err := f.apply("app1", "lo", 3, model.StreamStatusAppending)
	require.NoError(t, err)
	assert.Equal(t, "Hello", e.Content)

	// 带 offset 的重放落回原区间,覆盖写等于没写
	e, _, err = f.apply("app1", "lo", 3, model.StreamStatusAppending)
	require.NoError(t, err)
	assert.Equal(t, "Hello", e.Content)

	e, _, err = f.apply("app1", ", world", 5, model.StreamStatusAppending)
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", e.Content)
}

func TestAssemblerChunkFromStrangerDenied(t *testing.T) {
	ctx := context.Background()
	f := newAssemblerFixture(t)
	f.seedStream(t, "app1", "m1", "sm1")
	f.begin(t, "app1", "m1", "sm1", "Hel")

	// 别人拿着 app_message_id 注入分片,连收尾都不行
	_, _, err := f.asm.Apply(ctx, &Chunk{
		AppMessageID:     "app1",
		SenderID:         "u9",
		OrganizationCode: "org1",
		Delta:            "EVIL",
		Offset:           OffsetUnknown,
		Status:           model.StreamStatusEnd,
	})
	require.Error(t, err)
	code, _, _ := errs.Unwrap(err)
	assert.Equal(t, errs.AuthorizationDeniedCode, code)

	// 流还活着,内容没被污染,归属者可以继续
	e, done, err := f.apply("app1", "lo", OffsetUnknown, model.StreamStatusEnd)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, "Hello", e.Content)
}

func TestAssemblerChunkAfterEnd(t *testing.T) {
	f := newAssemblerFixture(t)
	f.seedStream(t, "app1", "m1", "sm1")
	f.begin(t, "app1", "m1", "sm1", "")

	_, _, err := f.apply("app1", "done", OffsetUnknown, model.StreamStatusEnd)
	require.NoError(t, err)

	_, _, err = f.apply("app1", "late", OffsetUnknown, model.StreamStatusAppending)
	require.Error(t, err)
	code, _, _ := errs.Unwrap(err)
	assert.Equal(t, errs.MessageNotFoundCode, code, "End 之后的分片按未知流处理")
}

func TestAssemblerApplyWithoutStart(t *testing.T) {
	f := newAssemblerFixture(t)
	_, _, err := f.apply("never-started", "x", OffsetUnknown, model.StreamStatusAppending)
	require.Error(t, err)
	code, _, _ := errs.Unwrap(err)
	assert.Equal(t, errs.MessageNotFoundCode, code)
}

func TestAssemblerDuplicateStartKeepsAccumulation(t *testing.T) {
	f := newAssemblerFixture(t)
	f.seedStream(t, "app1", "m1", "sm1")
	f.begin(t, "app1", "m1", "sm1", "a")

	_, _, err := f.apply("app1", "b", OffsetUnknown, model.StreamStatusAppending)
	require.NoError(t, err)

	// Start 重放不得清空已累积的内容
	f.begin(t, "app1", "m1", "sm1", "a")
	e, _, err := f.apply("app1", "c", OffsetUnknown, model.StreamStatusAppending)
	require.NoError(t, err)
	assert.Equal(t, "abc", e.Content)
}

func TestFinalizeStaleActsAsImplicitEnd(t *testing.T) {
	ctx := context.Background()
	f := newAssemblerFixture(t)
	f.seedStream(t, "app1", "m1", "sm1")
	f.begin(t, "app1", "m1", "sm1", "partial")

	require.NoError(t, f.asm.FinalizeStale(ctx, "app1"))

	msg, err := f.store.Messages().GetByMagicMessageID(ctx, "m1")
	require.NoError(t, err)
	content, err := model.DecodeContent(model.MessageTypeText, msg.Content)
	require.NoError(t, err)
	assert.Equal(t, "partial", content.(*model.TextContent).Content)

	cached, err := f.cache.Get(ctx, "app1")
	require.NoError(t, err)
	assert.Nil(t, cached)
}
