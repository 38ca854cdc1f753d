package pipeline

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	apperrors "sudooom.im.sync/internal/errors"
	"sudooom.im.sync/internal/model"
	"sudooom.im.sync/internal/proto"
	"sudooom.im.sync/internal/snowflake"
	"sudooom.im.sync/internal/workerpool"
)

// MessageStore 消息持久化
type MessageStore interface {
	Create(ctx context.Context, msg *model.Message) error
	FindByID(ctx context.Context, id int64) (*model.Message, error)
	MarkDelivered(ctx context.Context, id int64, at time.Time) (bool, error)
	InsertReceipt(ctx context.Context, receipt *model.ReadReceipt) (bool, error)
	UpsertReaction(ctx context.Context, reaction *model.Reaction) error
	UpdateContent(ctx context.Context, id int64, content string) error
	SoftDelete(ctx context.Context, id int64, at time.Time) error
}

// ConversationStore 会话持久化
type ConversationStore interface {
	Exists(ctx context.Context, convID int64) (bool, error)
	IsParticipant(ctx context.Context, convID, userID int64) (bool, error)
	ParticipantIDs(ctx context.Context, convID int64) ([]int64, error)
	FindParticipant(ctx context.Context, convID, userID int64) (*model.Participant, error)
	AddParticipant(ctx context.Context, member *model.Participant) error
	TouchLastMessage(ctx context.Context, convID int64, at time.Time) error
}

// Dispatcher 事件分发端
type Dispatcher interface {
	Dispatch(ctx context.Context, targets []int64, ev *proto.ServerEvent)
}

// UnreadCounter 未读计数（派生状态，失败不影响主流程）
type UnreadCounter interface {
	Bump(ctx context.Context, memberIDs []int64, senderID, convID, msgID int64) error
	Clear(ctx context.Context, userID, convID, lastReadMsgID int64) error
}

// PresenceChecker 在线状态查询（离线通知判定）
// 判定必须基于跨节点视图：成员在任一节点持有通道就不算离线
type PresenceChecker interface {
	IsOnline(ctx context.Context, userID int64) (bool, error)
}

// Notifier 离线通知端
type Notifier interface {
	NotifyOffline(ctx context.Context, userID int64, msg *model.Message) error
}

// Pipeline 消息管道
// 所有写操作先持久化后分发：持久化失败的消息不产生任何事件
type Pipeline struct {
	messages MessageStore
	convs    ConversationStore
	dispatch Dispatcher
	unread   UnreadCounter
	presence PresenceChecker
	notifier Notifier
	ids      *snowflake.Node
	pool     *workerpool.Pool
	logger   *slog.Logger
}

// New 创建消息管道
func New(
	messages MessageStore,
	convs ConversationStore,
	dispatch Dispatcher,
	unread UnreadCounter,
	presence PresenceChecker,
	notifier Notifier,
	ids *snowflake.Node,
	pool *workerpool.Pool,
) *Pipeline {
	return &Pipeline{
		messages: messages,
		convs:    convs,
		dispatch: dispatch,
		unread:   unread,
		presence: presence,
		notifier: notifier,
		ids:      ids,
		pool:     pool,
		logger:   slog.Default(),
	}
}

// Send 发送消息
// 成功返回即表示消息已落库；规范 ID 与 createdAt 由服务端分配
func (p *Pipeline) Send(ctx context.Context, senderID int64, req *proto.SendMessage) (*model.Message, error) {
	if err := validateContent(req.Content, req.MsgType); err != nil {
		return nil, err
	}

	members, err := p.authorize(ctx, req.ConversationId, senderID)
	if err != nil {
		return nil, err
	}

	msg := &model.Message{
		Id:             p.ids.Generate().Int64(),
		ConversationId: req.ConversationId,
		SenderId:       senderID,
		Content:        req.Content,
		MsgType:        req.MsgType,
		ReplyToId:      req.ReplyToId,
		CreatedAt:      time.Now(),
	}

	if err := p.messages.Create(ctx, msg); err != nil {
		return nil, apperrors.ErrDBError.Wrap(err)
	}
	if err := p.convs.TouchLastMessage(ctx, msg.ConversationId, msg.CreatedAt); err != nil {
		p.logger.Error("Failed to touch conversation", "conversationId", msg.ConversationId, "error", err)
	}

	// 发送者所有通道收到 Ack，其余成员收到消息本体
	p.dispatch.Dispatch(ctx, []int64{senderID}, &proto.ServerEvent{
		MessageAck: &proto.MessageAck{TempId: req.TempId, Message: *msg},
	})
	recipients := exclude(members, senderID)
	if len(recipients) > 0 {
		p.dispatch.Dispatch(ctx, recipients, &proto.ServerEvent{ReceiveMessage: msg})
	}

	p.afterSend(members, senderID, msg)
	return msg, nil
}

// afterSend 非关键路径：未读计数与离线通知
func (p *Pipeline) afterSend(members []int64, senderID int64, msg *model.Message) {
	p.pool.TrySubmit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := p.unread.Bump(ctx, members, senderID, msg.ConversationId, msg.Id); err != nil {
			p.logger.Error("Failed to bump unread counters",
				"conversationId", msg.ConversationId, "error", err)
		}

		if p.notifier == nil || p.presence == nil {
			return
		}
		for _, userID := range exclude(members, senderID) {
			online, err := p.presence.IsOnline(ctx, userID)
			if err != nil {
				// 状态未知时宁可不推，避免向在线成员重复推送
				p.logger.Warn("Failed to check presence", "userId", userID, "error", err)
				continue
			}
			if online {
				continue
			}
			if err := p.notifier.NotifyOffline(ctx, userID, msg); err != nil {
				p.logger.Warn("Failed to notify offline user", "userId", userID, "error", err)
			}
		}
	})
}

// MarkDelivered 上报送达
// deliveredAt 单调：只有首次上报发生转换并产生分发，重复上报是 no-op
// 成员资格按消息实际归属的会话校验，上报携带的会话 ID 必须与之一致
func (p *Pipeline) MarkDelivered(ctx context.Context, userID, convID, msgID int64) error {
	msg, members, err := p.loadMessage(ctx, msgID, userID)
	if err != nil {
		return err
	}
	if msg.ConversationId != convID {
		return apperrors.ErrMessageNotFound
	}

	now := time.Now()
	transitioned, err := p.messages.MarkDelivered(ctx, msgID, now)
	if err != nil {
		return apperrors.ErrDBError.Wrap(err)
	}
	if !transitioned {
		return nil
	}

	targets := exclude(members, userID)
	if len(targets) > 0 {
		p.dispatch.Dispatch(ctx, targets, &proto.ServerEvent{
			MessageWasDelivered: &proto.MessageWasDelivered{
				ConversationId: convID,
				MessageId:      msgID,
				DeliveredAt:    now,
			},
		})
	}
	return nil
}

// MarkRead 上报已读
// 回执 (messageId, userId) 只插入一次，重复上报不分发；首次插入清零未读数
func (p *Pipeline) MarkRead(ctx context.Context, userID, msgID int64) error {
	msg, members, err := p.loadMessage(ctx, msgID, userID)
	if err != nil {
		return err
	}

	receipt := &model.ReadReceipt{MessageId: msgID, UserId: userID, ReadAt: time.Now()}
	inserted, err := p.messages.InsertReceipt(ctx, receipt)
	if err != nil {
		return apperrors.ErrDBError.Wrap(err)
	}
	if !inserted {
		return nil
	}

	targets := exclude(members, userID)
	if len(targets) > 0 {
		p.dispatch.Dispatch(ctx, targets, &proto.ServerEvent{
			MessageSeen: &proto.MessageSeen{
				ConversationId: msg.ConversationId,
				MessageId:      msgID,
				UserId:         userID,
				ReadAt:         receipt.ReadAt,
			},
		})
	}

	p.pool.TrySubmit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.unread.Clear(ctx, userID, msg.ConversationId, msgID); err != nil {
			p.logger.Error("Failed to clear unread counter",
				"userId", userID, "conversationId", msg.ConversationId, "error", err)
		}
	})
	return nil
}

// React 表情回应
// 同一用户对同一消息保留最后一次写入，分发更新后的完整消息
func (p *Pipeline) React(ctx context.Context, userID, msgID int64, emoji string) error {
	_, members, err := p.loadMessage(ctx, msgID, userID)
	if err != nil {
		return err
	}

	reaction := &model.Reaction{MessageId: msgID, UserId: userID, Emoji: emoji, ReactedAt: time.Now()}
	if err := p.messages.UpsertReaction(ctx, reaction); err != nil {
		return apperrors.ErrDBError.Wrap(err)
	}

	updated, err := p.messages.FindByID(ctx, msgID)
	if err != nil {
		return apperrors.ErrDBError.Wrap(err)
	}
	if updated == nil {
		return apperrors.ErrMessageNotFound
	}

	p.dispatch.Dispatch(ctx, members, &proto.ServerEvent{MessageReacted: updated})
	return nil
}

// Edit 编辑消息，仅发送者可操作
func (p *Pipeline) Edit(ctx context.Context, userID, msgID int64, content string) error {
	msg, members, err := p.loadMessage(ctx, msgID, userID)
	if err != nil {
		return err
	}
	if msg.SenderId != userID {
		return apperrors.ErrNotSender
	}
	if strings.TrimSpace(content) == "" {
		return apperrors.ErrEmptyContent
	}

	if err := p.messages.UpdateContent(ctx, msgID, content); err != nil {
		return apperrors.ErrDBError.Wrap(err)
	}

	updated, err := p.messages.FindByID(ctx, msgID)
	if err != nil {
		return apperrors.ErrDBError.Wrap(err)
	}
	if updated == nil {
		return apperrors.ErrMessageNotFound
	}

	p.dispatch.Dispatch(ctx, members, &proto.ServerEvent{MessageEdited: updated})
	return nil
}

// Delete 软删除消息，仅发送者可操作
// 分发事件只携带标识，客户端据此从可见日志移除
func (p *Pipeline) Delete(ctx context.Context, userID, msgID int64) error {
	msg, members, err := p.loadMessage(ctx, msgID, userID)
	if err != nil {
		return err
	}
	if msg.SenderId != userID {
		return apperrors.ErrNotSender
	}

	if err := p.messages.SoftDelete(ctx, msgID, time.Now()); err != nil {
		return apperrors.ErrDBError.Wrap(err)
	}

	p.dispatch.Dispatch(ctx, members, &proto.ServerEvent{
		MessageDeleted: &proto.MessageDeleted{
			ConversationId: msg.ConversationId,
			MessageId:      msgID,
		},
	})
	return nil
}

// AddParticipant 向会话追加成员
// 仅具备成员管理能力的成员可操作；成员集合只增不减，重复追加是 no-op
func (p *Pipeline) AddParticipant(ctx context.Context, actorID, convID, newUserID int64) error {
	exists, err := p.convs.Exists(ctx, convID)
	if err != nil {
		return apperrors.ErrDBError.Wrap(err)
	}
	if !exists {
		return apperrors.ErrConversationNotFound
	}

	actor, err := p.convs.FindParticipant(ctx, convID, actorID)
	if err != nil {
		return apperrors.ErrDBError.Wrap(err)
	}
	if actor == nil {
		return apperrors.ErrNotParticipant
	}
	if actor.Capability() != model.CanManageParticipants {
		return apperrors.ErrCapabilityDenied
	}

	member := &model.Participant{
		ConversationId: convID,
		UserId:         newUserID,
		Role:           model.RoleMember,
		JoinedAt:       time.Now(),
	}
	if err := p.convs.AddParticipant(ctx, member); err != nil {
		return apperrors.ErrDBError.Wrap(err)
	}
	return nil
}

// loadMessage 加载消息并校验操作者是其会话成员
// 消息不存在优先于权限判定：不泄露消息归属
func (p *Pipeline) loadMessage(ctx context.Context, msgID, userID int64) (*model.Message, []int64, error) {
	msg, err := p.messages.FindByID(ctx, msgID)
	if err != nil {
		return nil, nil, apperrors.ErrDBError.Wrap(err)
	}
	if msg == nil || msg.Deleted() {
		return nil, nil, apperrors.ErrMessageNotFound
	}

	members, err := p.authorize(ctx, msg.ConversationId, userID)
	if err != nil {
		return nil, nil, err
	}
	return msg, members, nil
}

// authorize 校验会话存在且操作者为成员，返回成员集合
func (p *Pipeline) authorize(ctx context.Context, convID, userID int64) ([]int64, error) {
	exists, err := p.convs.Exists(ctx, convID)
	if err != nil {
		return nil, apperrors.ErrDBError.Wrap(err)
	}
	if !exists {
		return nil, apperrors.ErrConversationNotFound
	}

	ok, err := p.convs.IsParticipant(ctx, convID, userID)
	if err != nil {
		return nil, apperrors.ErrDBError.Wrap(err)
	}
	if !ok {
		return nil, apperrors.ErrNotParticipant
	}

	return p.convs.ParticipantIDs(ctx, convID)
}

// validateContent 文本消息内容非空；媒体消息内容必须是可解析的 URL
func validateContent(content string, msgType model.MessageType) error {
	if msgType.IsMedia() {
		u, err := url.Parse(content)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return apperrors.ErrInvalidMediaURL
		}
		return nil
	}
	if strings.TrimSpace(content) == "" {
		return apperrors.ErrEmptyContent
	}
	return nil
}

func exclude(ids []int64, omit int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id != omit {
			out = append(out, id)
		}
	}
	return out
}
