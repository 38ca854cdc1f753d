package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"sudooom.im.sync/internal/config"
	apperrors "sudooom.im.sync/internal/errors"
	"sudooom.im.sync/internal/model"
)

// HTTPNotifier 离线推送通知器
// 将离线成员的新消息转发给外部推送网关，fire-and-forget：
// 失败只记日志，推送网关自行负责重试与节流
type HTTPNotifier struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPNotifier 创建推送通知器
func NewHTTPNotifier(cfg config.NotifyConfig) *HTTPNotifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPNotifier{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   slog.Default(),
	}
}

type pushPayload struct {
	UserId         int64     `json:"userId"`
	ConversationId int64     `json:"conversationId"`
	MessageId      int64     `json:"messageId"`
	SenderId       int64     `json:"senderId"`
	Preview        string    `json:"preview"`
	SentAt         time.Time `json:"sentAt"`
}

// NotifyOffline 通知离线用户有新消息
func (n *HTTPNotifier) NotifyOffline(ctx context.Context, userID int64, msg *model.Message) error {
	payload := pushPayload{
		UserId:         userID,
		ConversationId: msg.ConversationId,
		MessageId:      msg.Id,
		SenderId:       msg.SenderId,
		Preview:        preview(msg),
		SentAt:         msg.CreatedAt,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return apperrors.ErrUpstreamError.Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return apperrors.ErrUpstreamError.Wrap(fmt.Errorf("push gateway returned %d", resp.StatusCode))
	}
	return nil
}

// preview 媒体消息不外泄 URL，只给类型占位
func preview(msg *model.Message) string {
	if msg.MsgType.IsMedia() {
		return "[媒体消息]"
	}
	if len(msg.Content) > 64 {
		return msg.Content[:64]
	}
	return msg.Content
}

// NopNotifier 未配置推送网关时的空实现
type NopNotifier struct{}

// NotifyOffline 丢弃通知
func (NopNotifier) NotifyOffline(context.Context, int64, *model.Message) error {
	return nil
}
