package errs

// 聊天领域错误码. 4xxx 为调用方问题,5xxx 为服务端/依赖问题.
const (
	ServerInternalError = 5000

	AuthorizationDeniedCode           = 4003
	ConversationNotFoundCode          = 4004
	ConversationDeletedCode           = 4005
	ConversationTypeUnsupportedCode   = 4006
	TopicRequiredCode                 = 4007
	MessageTypeErrorCode              = 4008
	MessageNotFoundCode               = 4044
	AllocationUnavailableCode         = 5001
	StreamStateTimeoutCode            = 5002
	FanoutPartialFailureCode          = 5003
)

var (
	ErrInternalServer = NewCodeError(ServerInternalError, "server internal error")

	// 鉴权/寻址类: 任何一项失败都不允许产生写入
	ErrAuthorizationDenied         = NewCodeError(AuthorizationDeniedCode, "authorization denied")
	ErrConversationNotFound        = NewCodeError(ConversationNotFoundCode, "conversation not found")
	ErrConversationDeleted         = NewCodeError(ConversationDeletedCode, "conversation deleted")
	ErrConversationTypeUnsupported = NewCodeError(ConversationTypeUnsupportedCode, "conversation type unsupported")
	ErrTopicRequired               = NewCodeError(TopicRequiredCode, "topic id required for ai private conversation")
	ErrMessageTypeError            = NewCodeError(MessageTypeErrorCode, "message type error")
	ErrMessageNotFound             = NewCodeError(MessageNotFoundCode, "message not found")

	// 依赖类
	ErrAllocationUnavailable = NewCodeError(AllocationUnavailableCode, "sequence allocation unavailable")
	ErrStreamStateTimeout    = NewCodeError(StreamStateTimeoutCode, "stream state lock timeout")
	ErrFanoutPartialFailure  = NewCodeError(FanoutPartialFailureCode, "fanout partially failed")
)
