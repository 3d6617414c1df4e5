// Package service 聊天编排层: 鉴权、会话/话题解析、落库、
// 分号、扇出入队,对外暴露发送/编辑/拉取操作.
package service

import (
	"context"

	"MagicChat/module/chat/model"
)

// Caller 当前请求主体,由身份协作方(网关中间件)解析后显式传入.
type Caller struct {
	UserID           string
	OrganizationCode string
	MagicEnvID       string
	IsAgent          bool // 助理身份,决定发送方类型与话题规则,不放宽归属校验
}

// FileService 附件协作方: 归属校验并补全附件元信息.
// 附件必须属于发送者本人,校验失败整次发送失败.
type FileService interface {
	CheckAndFillAttachments(ctx context.Context, caller Caller, atts []model.Attachment) ([]model.Attachment, error)
}

// NopFileService 无文件服务部署用,原样放行
type NopFileService struct{}

func (NopFileService) CheckAndFillAttachments(ctx context.Context, caller Caller, atts []model.Attachment) ([]model.Attachment, error) {
	return atts, nil
}

// Pusher 在线推送协作方,fire-and-forget
type Pusher interface {
	PushOnline(ctx context.Context, recipientID string, cs *model.ClientSeq)
}
