package seq

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MagicChat/module/chat/model"
)

func inboxKey(uid string) model.InboxKey {
	return model.InboxKey{
		OrganizationCode: "org1",
		ObjectType:       model.ConversationTypeUser,
		ObjectID:         uid,
	}
}

func TestMemAllocatorMonotonic(t *testing.T) {
	ctx := context.Background()
	a := NewMemAllocator()
	key := inboxKey("u1")

	var last int64
	for i := 0; i < 100; i++ {
		n, err := a.Next(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, last+1, n, "序号必须连续递增")
		last = n
	}
}

func TestMemAllocatorIsolatedPerInbox(t *testing.T) {
	ctx := context.Background()
	a := NewMemAllocator()

	n1, err := a.Next(ctx, inboxKey("u1"))
	require.NoError(t, err)
	n2, err := a.Next(ctx, inboxKey("u2"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n1)
	assert.Equal(t, int64(1), n2, "不同收件箱各自从 1 起号")
}

func TestMemAllocatorNextN(t *testing.T) {
	ctx := context.Background()
	a := NewMemAllocator()
	key := inboxKey("u1")

	first, err := a.NextN(ctx, key, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)

	next, err := a.Next(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(6), next, "块分配后下一个号紧跟块尾")
}

func TestReconcileOnlyRaises(t *testing.T) {
	ctx := context.Background()
	a := NewMemAllocator()
	key := inboxKey("u1")

	for i := 0; i < 10; i++ {
		_, err := a.Next(ctx, key)
		require.NoError(t, err)
	}

	// 库内最大号落后于分配器: 矫正不允许回拨
	n, err := a.Reconcile(ctx, key, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)

	// 缓存丢失后分配器落后: 矫正抬升到库内最大号之后
	a.Rewind(key, 0)
	n, err = a.Reconcile(ctx, key, 11)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	n, err = a.Next(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(13), n)
}
