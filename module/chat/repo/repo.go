package repo

import (
	"context"
	"errors"
	"time"

	"MagicChat/module/chat/model"
)

// 唯一键冲突哨兵. 生产实现把 mongo 的 duplicate key 归一化成这两个错误,
// 内存实现直接返回,便于上层做幂等矫正.
var (
	ErrDupSeqID        = errors.New("unique (inbox, seq_id) violated")
	ErrDupReceiverCopy = errors.New("unique (object_id, sender_message_id) violated")
)

// ConversationRepo 会话仓储
type ConversationRepo interface {
	// Create 幂等: (user_id, receive_id) 已存在时返回已有记录,不报错
	Create(ctx context.Context, c *model.Conversation) (*model.Conversation, error)
	GetByID(ctx context.Context, id string) (*model.Conversation, error)
	GetByUserAndReceive(ctx context.Context, userID, receiveID string) (*model.Conversation, error)
}

// TopicRepo 话题仓储
type TopicRepo interface {
	Create(ctx context.Context, t *model.Topic) error
	// GetByAnchor 按 (会话,锚点) 查话题;anchor 为空表示无锚点话题
	GetByAnchor(ctx context.Context, conversationID, anchorMessageID string) (*model.Topic, error)
	LatestByConversation(ctx context.Context, conversationID string) (*model.Topic, error)
}

// MessageRepo 消息仓储. 消息内容一经写入不再覆盖,
// 编辑通过 AppendVersion 追加版本并移动 current_version_id 指针.
type MessageRepo interface {
	Create(ctx context.Context, m *model.Message) error
	GetByMagicMessageID(ctx context.Context, magicMessageID string) (*model.Message, error)
	GetByMagicMessageIDs(ctx context.Context, ids []string) (map[string]*model.Message, error)
	GetByAppMessageID(ctx context.Context, senderID, appMessageID string) (*model.Message, error)
	AppendVersion(ctx context.Context, v *model.MessageVersion) error
	ListVersions(ctx context.Context, magicMessageID string) ([]*model.MessageVersion, error)
	// UpdateContent 仅流式消息终结时使用
	UpdateContent(ctx context.Context, magicMessageID, content string, sendTime time.Time) error
}

// ConversationMessagesQuery 会话窗口滚动加载的查询条件.
// BeginTimeMS/EndTimeMS 与 AfterSeqID 二选一.
type ConversationMessagesQuery struct {
	OrganizationCode string
	ObjectID         string // 收件箱归属方,即会话归属用户
	ObjectType       model.ConversationType
	ConversationID   string
	TopicID          string
	AfterSeqID       int64
	BeginTimeMS      int64
	EndTimeMS        int64
	Limit            int
}

// SeqRepo 收件箱序列仓储
type SeqRepo interface {
	// Insert 唯一索引: (org, object_type, object_id, seq_id) 与 (object_id, sender_message_id)
	Insert(ctx context.Context, s *model.Seq) error
	MaxSeqID(ctx context.Context, key model.InboxKey) (int64, error)
	GetByID(ctx context.Context, id string) (*model.Seq, error)
	GetByMessageID(ctx context.Context, messageID string) (*model.Seq, error)
	// GetMasterByMagicID 发件方主 seq: sender_message_id 为空的那条
	GetMasterByMagicID(ctx context.Context, magicMessageID string) (*model.Seq, error)
	ReceiverCopyExists(ctx context.Context, objectID, senderMessageID string) (bool, error)
	ListInbox(ctx context.Context, key model.InboxKey, afterSeqID int64, limit int) ([]*model.Seq, error)
	ListConversation(ctx context.Context, q ConversationMessagesQuery) ([]*model.Seq, error)
	// UpdateContentByMagicID 流式终结: 刷新引用该消息的所有 seq 副本的内容
	UpdateContentByMagicID(ctx context.Context, magicMessageID, content string) error
	UpdateStatus(ctx context.Context, key model.InboxKey, seqIDs []int64, status model.SeqStatus) error
	// MoveReceiveListUser 把 uid 在主 seq 的 receive_list 中移动到目标状态列表
	MoveReceiveListUser(ctx context.Context, senderMessageID, uid string, to model.SeqStatus) error
}

// OutboxRepo 扇出意图仓储(transactional outbox)
type OutboxRepo interface {
	Append(ctx context.Context, o *model.DispatchOutbox) error
	PollPending(ctx context.Context, limit int) ([]*model.DispatchOutbox, error)
	MarkSent(ctx context.Context, id string) error
}

// GroupMember 群成员视图. 已被移出的成员不会出现在列表里.
type GroupMember struct {
	UserID           string
	OrganizationCode string
	Muted            bool // 免打扰: 仍然写扩散,但不做在线推送
}

// GroupMemberRepo 群成员仓储(成员管理本身在群模块,这里只读)
type GroupMemberRepo interface {
	ListActiveMembers(ctx context.Context, groupID string) ([]GroupMember, error)
}

func IsDupSeqID(err error) bool        { return errors.Is(err, ErrDupSeqID) }
func IsDupReceiverCopy(err error) bool { return errors.Is(err, ErrDupReceiverCopy) }
