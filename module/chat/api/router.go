package api

import (
	"github.com/gin-gonic/gin"

	"MagicChat/middleware"
	midsec "MagicChat/middleware/security"
)

// RegisterRoutes 注册聊天接口路由,全部走鉴权
func RegisterRoutes(r gin.IRoutes, h *Handler, auth *midsec.Options) {
	opt := middleware.RouteOpt{IsAuth: true, Auth: auth}

	middleware.POST(r, "/api/v1/chat/messages", h.SendMessage, opt)
	middleware.POST(r, "/api/v1/chat/messages/stream", h.SendStreamChunk, opt)
	middleware.POST(r, "/api/v1/chat/messages/edit", h.EditMessage, opt)
	middleware.POST(r, "/api/v1/chat/seqs/status", h.MarkStatus, opt)
	middleware.GET(r, "/api/v1/chat/pull", h.Pull, opt)
	middleware.GET(r, "/api/v1/chat/conversations/:id/messages", h.ConversationMessages, opt)
}
