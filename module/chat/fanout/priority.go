// Package fanout 写扩散引擎. 发件方主 seq 提交后,为每个接收方
// 生成收件箱 seq 副本并做在线推送.
package fanout

import "MagicChat/module/chat/model"

// Priority 投递优先级,数值越小越优先. 队列按优先级分流,
// 小会话的实时性不被大群扇出拖垮.
type Priority int32

const (
	PriorityHigh   Priority = 1
	PriorityMedium Priority = 2
	PriorityLow    Priority = 3
	PriorityLowest Priority = 4
)

// 群规模分档阈值
const (
	highFanoutLimit   = 20
	mediumFanoutLimit = 100
	lowFanoutLimit    = 500
)

// ChatMessagePriority 按会话类型与接收方规模定档.
// 单聊永远最高优,群聊按成员数降档.
func ChatMessagePriority(receiveType model.ConversationType, receiverCount int) Priority {
	if receiveType != model.ConversationTypeGroup {
		return PriorityHigh
	}
	switch {
	case receiverCount <= highFanoutLimit:
		return PriorityHigh
	case receiverCount <= mediumFanoutLimit:
		return PriorityMedium
	case receiverCount <= lowFanoutLimit:
		return PriorityLow
	default:
		return PriorityLowest
	}
}
