package natsx

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"MagicChat/logger"
	"MagicChat/module/chat/model"
)

const pushSubjectPattern = "chat.push.online.%s"

// PresenceChecker 推送前的在线判定. 明确离线的收件人不占推送带宽,
// 他们的消息躺在收件箱等下次拉取.
type PresenceChecker interface {
	IsOnline(ctx context.Context, uid string) bool
}

// AlwaysOnline 不接在线表时全量推送
type AlwaysOnline struct{}

func (AlwaysOnline) IsOnline(ctx context.Context, uid string) bool { return true }

// Pusher 给在线网关发新 seq 通知. 失败只记日志不回传,
// Nats-Msg-Id 用 seq 自己的 message_id,网关侧可据此去重.
type Pusher struct {
	client   *Client
	presence PresenceChecker
}

func NewPusher(client *Client, presence PresenceChecker) *Pusher {
	if presence == nil {
		presence = AlwaysOnline{}
	}
	return &Pusher{client: client, presence: presence}
}

func (p *Pusher) PushOnline(ctx context.Context, recipientID string, cs *model.ClientSeq) {
	if !p.presence.IsOnline(ctx, recipientID) {
		return
	}
	raw, err := json.Marshal(cs)
	if err != nil {
		logger.Error("marshal client seq", zap.Error(err))
		return
	}
	subject := fmt.Sprintf(pushSubjectPattern, recipientID)
	hdr := map[string]string{"Nats-Msg-Id": cs.Seq.MessageID}
	if err := p.client.PublishMsg(subject, raw, hdr); err != nil {
		logger.Warn("online push failed",
			zap.String("recipient", recipientID),
			zap.String("message_id", cs.Seq.MessageID),
			zap.Error(err))
	}
}

// NopPusher 测试与无网关部署用
type NopPusher struct{}

func (NopPusher) PushOnline(ctx context.Context, recipientID string, cs *model.ClientSeq) {}
