package handler

import (
	"context"
	"log/slog"

	"sudooom.im.sync/internal/connection"
	apperrors "sudooom.im.sync/internal/errors"
	"sudooom.im.sync/internal/history"
	"sudooom.im.sync/internal/jwt"
	"sudooom.im.sync/internal/pipeline"
	"sudooom.im.sync/internal/presence"
	"sudooom.im.sync/internal/proto"
	"sudooom.im.sync/internal/telemetry"
	"sudooom.im.sync/internal/typing"
)

// ChannelHandler 通道数据包处理器
// 解码后的上行数据包在这里路由到管道、历史服务或输入协调器；
// 同步拒绝（校验/权限/不存在）通过 Error 事件回给来源通道
type ChannelHandler struct {
	pipeline *pipeline.Pipeline
	history  *history.Service
	typing   *typing.Coordinator
	location *presence.LocationStore
	jwtSvc   *jwt.Service
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

// NewChannelHandler 创建通道处理器
func NewChannelHandler(
	pl *pipeline.Pipeline,
	hist *history.Service,
	typ *typing.Coordinator,
	location *presence.LocationStore,
	jwtSvc *jwt.Service,
	metrics *telemetry.Metrics,
) *ChannelHandler {
	return &ChannelHandler{
		pipeline: pl,
		history:  hist,
		typing:   typ,
		location: location,
		jwtSvc:   jwtSvc,
		metrics:  metrics,
		logger:   slog.Default(),
	}
}

// Authenticate 处理首包认证
// 首个数据包必须是 Auth，验证通过后绑定身份并注册通道位置
func (h *ChannelHandler) Authenticate(ctx context.Context, ch *connection.Channel, pkt *proto.ClientPacket) error {
	if pkt.Auth == nil {
		return apperrors.ErrNotAuthed
	}

	claims, err := h.jwtSvc.Parse(pkt.Auth.Token)
	if err != nil {
		if err == jwt.ErrTokenExpired {
			return apperrors.ErrTokenExpired
		}
		return apperrors.ErrTokenInvalid.Wrap(err)
	}

	platform := pkt.Auth.Platform
	if platform == "" {
		platform = claims.Platform
	}
	ch.BindIdentity(claims.UserID, claims.DeviceID, platform)

	if err := h.location.Register(ctx, claims.UserID, ch.ID(), platform); err != nil {
		h.logger.Error("Failed to register channel location",
			"userId", claims.UserID, "channelId", ch.ID(), "error", err)
	}

	h.logger.Info("Channel authenticated",
		"userId", claims.UserID,
		"channelId", ch.ID(),
		"platform", platform)

	return ch.SendEvent(&proto.ServerEvent{AuthAck: &proto.AuthAck{UserId: claims.UserID}})
}

// HandlePacket 路由一条已认证通道的上行数据包
func (h *ChannelHandler) HandlePacket(ctx context.Context, ch *connection.Channel, pkt *proto.ClientPacket) {
	if h.metrics != nil {
		h.metrics.PacketsReceived.WithLabelValues(pkt.Kind()).Inc()
	}
	userID := ch.UserID()

	switch {
	case pkt.Heartbeat != nil:
		h.handleHeartbeat(ctx, ch)

	case pkt.SendMessage != nil:
		// 成功路径的 Ack 由管道分发到发送者全部通道
		if _, err := h.pipeline.Send(ctx, userID, pkt.SendMessage); err != nil {
			h.replyError(ch, pkt.SendMessage.TempId, err)
		}

	case pkt.MessageDelivered != nil:
		if err := h.pipeline.MarkDelivered(ctx, userID, pkt.MessageDelivered.ConversationId, pkt.MessageDelivered.MessageId); err != nil {
			h.replyError(ch, "", err)
		}

	case pkt.MarkSeen != nil:
		if err := h.pipeline.MarkRead(ctx, userID, pkt.MarkSeen.MessageId); err != nil {
			h.replyError(ch, "", err)
		}

	case pkt.React != nil:
		if err := h.pipeline.React(ctx, userID, pkt.React.MessageId, pkt.React.Emoji); err != nil {
			h.replyError(ch, "", err)
		}

	case pkt.Edit != nil:
		if err := h.pipeline.Edit(ctx, userID, pkt.Edit.MessageId, pkt.Edit.Content); err != nil {
			h.replyError(ch, "", err)
		}

	case pkt.Delete != nil:
		if err := h.pipeline.Delete(ctx, userID, pkt.Delete.MessageId); err != nil {
			h.replyError(ch, "", err)
		}

	case pkt.TypingSignal != nil:
		h.typing.SignalTyping(userID, pkt.TypingSignal.ConversationId)

	case pkt.AddParticipant != nil:
		if err := h.pipeline.AddParticipant(ctx, userID, pkt.AddParticipant.ConversationId, pkt.AddParticipant.UserId); err != nil {
			h.replyError(ch, "", err)
		}

	case pkt.FetchConversations != nil:
		page, err := h.history.FetchConversations(ctx, userID, pkt.FetchConversations)
		if err != nil {
			h.replyError(ch, pkt.FetchConversations.ReqId, err)
			return
		}
		h.reply(ch, &proto.ServerEvent{ConversationPage: page})

	case pkt.FetchMessages != nil:
		page, err := h.history.FetchMessages(ctx, userID, pkt.FetchMessages)
		if err != nil {
			h.replyError(ch, pkt.FetchMessages.ReqId, err)
			return
		}
		h.reply(ch, &proto.ServerEvent{MessagePage: page})

	default:
		h.replyError(ch, "", apperrors.ErrMalformedPacket)
	}
}

// handleHeartbeat 刷新通道活跃时间与位置租约
func (h *ChannelHandler) handleHeartbeat(ctx context.Context, ch *connection.Channel) {
	if ch.UserID() > 0 {
		if err := h.location.Refresh(ctx, ch.UserID(), ch.ID()); err != nil {
			h.logger.Warn("Failed to refresh channel location",
				"userId", ch.UserID(), "channelId", ch.ID(), "error", err)
		}
	}
}

func (h *ChannelHandler) reply(ch *connection.Channel, ev *proto.ServerEvent) {
	if err := ch.SendEvent(ev); err != nil {
		h.logger.Debug("Failed to reply on channel",
			"channelId", ch.ID(), "kind", ev.Kind(), "error", err)
	}
}

func (h *ChannelHandler) replyError(ch *connection.Channel, reqID string, err error) {
	if h.metrics != nil {
		h.metrics.PipelineErrors.WithLabelValues(errorClass(err)).Inc()
	}
	h.reply(ch, &proto.ServerEvent{Error: &proto.ErrorReply{
		ReqId:   reqID,
		Code:    apperrors.GetCode(err),
		Message: apperrors.GetMessage(err),
	}})
}

func errorClass(err error) string {
	switch {
	case apperrors.IsValidation(err):
		return "validation"
	case apperrors.IsForbidden(err):
		return "forbidden"
	case apperrors.IsNotFound(err):
		return "not_found"
	default:
		return "upstream"
	}
}
