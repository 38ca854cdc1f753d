package history

import (
	"context"
	"log/slog"

	"github.com/samber/lo"

	apperrors "sudooom.im.sync/internal/errors"
	"sudooom.im.sync/internal/model"
	"sudooom.im.sync/internal/pagination"
	"sudooom.im.sync/internal/proto"
)

// MessagePager 消息分页读取
type MessagePager interface {
	PageByConversation(ctx context.Context, convID int64, cursor pagination.Cursor, limit int) ([]model.Message, error)
}

// ConversationPager 会话分页读取
type ConversationPager interface {
	Exists(ctx context.Context, convID int64) (bool, error)
	IsParticipant(ctx context.Context, convID, userID int64) (bool, error)
	PageByUser(ctx context.Context, userID int64, cursor pagination.Cursor, limit int) ([]model.Conversation, error)
	CountByUser(ctx context.Context, userID int64) (int64, error)
}

// UnreadReader 未读数批量读取
type UnreadReader interface {
	Counts(ctx context.Context, userID int64, convIDs []int64) (map[int64]int, error)
}

// Service 历史读取服务
// 分页基于键集游标：尾部新增的消息不会移动已取出的页，
// 完整翻页结果去重后等于全量集合
type Service struct {
	messages MessagePager
	convs    ConversationPager
	unread   UnreadReader
	logger   *slog.Logger
}

// NewService 创建历史读取服务
func NewService(messages MessagePager, convs ConversationPager, unread UnreadReader) *Service {
	return &Service{
		messages: messages,
		convs:    convs,
		unread:   unread,
		logger:   slog.Default(),
	}
}

// FetchMessages 取会话消息的一页（从游标处向更早方向）
func (s *Service) FetchMessages(ctx context.Context, userID int64, req *proto.FetchMessages) (*proto.MessagePage, error) {
	exists, err := s.convs.Exists(ctx, req.ConversationId)
	if err != nil {
		return nil, apperrors.ErrDBError.Wrap(err)
	}
	if !exists {
		return nil, apperrors.ErrConversationNotFound
	}
	ok, err := s.convs.IsParticipant(ctx, req.ConversationId, userID)
	if err != nil {
		return nil, apperrors.ErrDBError.Wrap(err)
	}
	if !ok {
		return nil, apperrors.ErrNotParticipant
	}

	cursor, err := pagination.Decode(req.Cursor)
	if err != nil {
		return nil, err
	}

	// 多取一条探测是否还有更早的页
	messages, err := s.messages.PageByConversation(ctx, req.ConversationId, cursor, pagination.PageSize+1)
	if err != nil {
		return nil, apperrors.ErrDBError.Wrap(err)
	}

	hasMore := len(messages) > pagination.PageSize
	if hasMore {
		messages = messages[:pagination.PageSize]
	}

	page := &proto.MessagePage{
		ReqId:          req.ReqId,
		ConversationId: req.ConversationId,
		Messages:       messages,
		HasMore:        hasMore,
	}
	if hasMore {
		last := &messages[len(messages)-1]
		page.NextCursor = pagination.Encode(pagination.FromMessage(last))
	}
	return page, nil
}

// FetchConversations 取用户会话列表的一页，按请求方视角填充未读数
func (s *Service) FetchConversations(ctx context.Context, userID int64, req *proto.FetchConversations) (*proto.ConversationPage, error) {
	cursor, err := pagination.Decode(req.Cursor)
	if err != nil {
		return nil, err
	}

	conversations, err := s.convs.PageByUser(ctx, userID, cursor, pagination.PageSize+1)
	if err != nil {
		return nil, apperrors.ErrDBError.Wrap(err)
	}

	hasMore := len(conversations) > pagination.PageSize
	if hasMore {
		conversations = conversations[:pagination.PageSize]
	}

	total, err := s.convs.CountByUser(ctx, userID)
	if err != nil {
		return nil, apperrors.ErrDBError.Wrap(err)
	}

	// 未读数是派生状态，读取失败降级为 0 而不是拒绝整页
	if s.unread != nil && len(conversations) > 0 {
		ids := lo.Map(conversations, func(c model.Conversation, _ int) int64 { return c.Id })
		counts, err := s.unread.Counts(ctx, userID, ids)
		if err != nil {
			s.logger.Warn("Failed to load unread counts", "userId", userID, "error", err)
		} else {
			for i := range conversations {
				conversations[i].UnreadCount = counts[conversations[i].Id]
			}
		}
	}

	page := &proto.ConversationPage{
		ReqId:              req.ReqId,
		Conversations:      conversations,
		TotalConversations: total,
		HasMore:            hasMore,
	}
	if hasMore {
		last := &conversations[len(conversations)-1]
		page.NextCursor = pagination.Encode(pagination.FromConversation(last))
	}
	return page, nil
}
