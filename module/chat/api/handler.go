package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	midsec "MagicChat/middleware/security"
	"MagicChat/module/chat/model"
	"MagicChat/module/chat/service"
	"MagicChat/tools/errs"
)

// Handler 聊天 HTTP 接入层
type Handler struct {
	orch *service.Orchestrator
}

func NewHandler(orch *service.Orchestrator) *Handler {
	return &Handler{orch: orch}
}

// SendMessage POST /api/v1/chat/messages
func (h *Handler) SendMessage(c *gin.Context) {
	caller, ok := midsec.CallerFrom(c)
	if !ok {
		respondErr(c, errs.ErrAuthorizationDenied.Wrap())
		return
	}
	var body SendMessageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondErr(c, errs.WrapMsg(err, "bad request body"))
		return
	}
	content, err := body.DecodeContent()
	if err != nil {
		respondErr(c, err)
		return
	}
	send := h.orch.SendChatMessage
	if caller.IsAgent {
		send = h.orch.AgentSendMessage
	}
	cs, err := send(c.Request.Context(), caller, &service.SendMessageReq{
		ConversationID:          body.ConversationID,
		ReceiveID:               body.ReceiveID,
		ReceiveType:             model.ConversationType(body.ReceiveType),
		ReceiveOrganizationCode: body.ReceiveOrganizationCode,
		AppMessageID:            body.AppMessageID,
		TopicID:                 body.TopicID,
		AnchorMessageID:         body.Anchor(),
		ReferMessageID:          body.ReferMessageID,
		Content:                 content,
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, cs)
}

// SendStreamChunk POST /api/v1/chat/messages/stream
func (h *Handler) SendStreamChunk(c *gin.Context) {
	caller, ok := midsec.CallerFrom(c)
	if !ok {
		respondErr(c, errs.ErrAuthorizationDenied.Wrap())
		return
	}
	var body StreamChunkBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondErr(c, errs.WrapMsg(err, "bad request body"))
		return
	}
	req := &service.SendMessageReq{
		ConversationID:          body.ConversationID,
		ReceiveID:               body.ReceiveID,
		ReceiveType:             model.ConversationType(body.ReceiveType),
		ReceiveOrganizationCode: body.ReceiveOrganizationCode,
		AppMessageID:            body.AppMessageID,
		TopicID:                 body.TopicID,
		AnchorMessageID:         body.Anchor(),
	}
	cs, err := h.orch.SendStreamChunk(c.Request.Context(), caller, req,
		body.Delta, body.ChunkOffset(), model.StreamStatus(body.Status))
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, cs)
}

// EditMessage POST /api/v1/chat/messages/edit
func (h *Handler) EditMessage(c *gin.Context) {
	caller, ok := midsec.CallerFrom(c)
	if !ok {
		respondErr(c, errs.ErrAuthorizationDenied.Wrap())
		return
	}
	var body EditMessageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondErr(c, errs.WrapMsg(err, "bad request body"))
		return
	}
	content, err := body.DecodeContent()
	if err != nil {
		respondErr(c, err)
		return
	}
	cs, err := h.orch.EditMessage(c.Request.Context(), caller,
		body.ConversationID, body.MagicMessageID, content)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, cs)
}

// Pull GET /api/v1/chat/pull?page_token=&page_size=
func (h *Handler) Pull(c *gin.Context) {
	caller, ok := midsec.CallerFrom(c)
	if !ok {
		respondErr(c, errs.ErrAuthorizationDenied.Wrap())
		return
	}
	page, err := h.orch.PullByPageToken(c.Request.Context(), caller,
		c.Query("page_token"), queryInt(c, "page_size"))
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, page)
}

// ConversationMessages GET /api/v1/chat/conversations/:id/messages
func (h *Handler) ConversationMessages(c *gin.Context) {
	caller, ok := midsec.CallerFrom(c)
	if !ok {
		respondErr(c, errs.ErrAuthorizationDenied.Wrap())
		return
	}
	req := &service.ConversationMessagesReq{
		ConversationID: c.Param("id"),
		TopicID:        c.Query("topic_id"),
		PageToken:      c.Query("page_token"),
		PageSize:       queryInt(c, "page_size"),
	}
	if ms := queryInt64(c, "begin_time_ms"); ms > 0 {
		req.BeginTime = time.UnixMilli(ms)
	}
	if ms := queryInt64(c, "end_time_ms"); ms > 0 {
		req.EndTime = time.UnixMilli(ms)
	}
	page, err := h.orch.GetMessagesByConversation(c.Request.Context(), caller, req)
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, page)
}

// MarkStatus POST /api/v1/chat/seqs/status
func (h *Handler) MarkStatus(c *gin.Context) {
	caller, ok := midsec.CallerFrom(c)
	if !ok {
		respondErr(c, errs.ErrAuthorizationDenied.Wrap())
		return
	}
	var body MarkStatusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondErr(c, errs.WrapMsg(err, "bad request body"))
		return
	}
	err := h.orch.MarkSeqStatus(c.Request.Context(), caller,
		body.SeqRowIDs, model.SeqStatus(body.Status))
	if err != nil {
		respondErr(c, err)
		return
	}
	respondOK(c, gin.H{})
}

// 业务错误统一 200 + code 信封,非业务错误 500
func respondErr(c *gin.Context, err error) {
	code, msg, detail := errs.Unwrap(err)
	status := http.StatusOK
	if code == errs.ServerInternalError {
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"code": code, "message": msg, "detail": detail})
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "ok", "data": data})
}

func queryInt(c *gin.Context, key string) int {
	return int(queryInt64(c, key))
}

func queryInt64(c *gin.Context, key string) int64 {
	v := c.Query(key)
	if v == "" {
		return 0
	}
	var out int64
	for _, ch := range v {
		if ch < '0' || ch > '9' {
			return 0
		}
		out = out*10 + int64(ch-'0')
	}
	return out
}
