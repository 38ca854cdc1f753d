package typing

import (
	"context"
	"log/slog"
	"time"

	"sudooom.im.sync/internal/proto"
	"sudooom.im.sync/internal/workerpool"
)

// ClientExpiry 客户端清除阈值
// 服务端不维护输入状态，客户端在该时长内未收到后续信号即自行清除指示器
const ClientExpiry = 2 * time.Second

// ParticipantSource 会话参与者解析
type ParticipantSource interface {
	IsParticipant(ctx context.Context, convID, userID int64) (bool, error)
	ParticipantIDs(ctx context.Context, convID int64) ([]int64, error)
}

// Dispatcher 事件分发端
type Dispatcher interface {
	Dispatch(ctx context.Context, targets []int64, ev *proto.ServerEvent)
}

// Coordinator 输入信号协调器
// 纯转发：不落库、不确认、不重试，信号丢失由下一次击键自愈
type Coordinator struct {
	participants ParticipantSource
	dispatcher   Dispatcher
	pool         *workerpool.Pool
	logger       *slog.Logger
}

// NewCoordinator 创建输入信号协调器
func NewCoordinator(participants ParticipantSource, dispatcher Dispatcher, pool *workerpool.Pool) *Coordinator {
	return &Coordinator{
		participants: participants,
		dispatcher:   dispatcher,
		pool:         pool,
		logger:       slog.Default(),
	}
}

// SignalTyping 转发输入信号给会话内其他参与者
// fire-and-forget：队列满时静默丢弃，非参与者的信号同样丢弃不报错
func (c *Coordinator) SignalTyping(userID, convID int64) {
	c.pool.TrySubmit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		ok, err := c.participants.IsParticipant(ctx, convID, userID)
		if err != nil {
			c.logger.Error("Failed to check typing participant",
				"userId", userID, "conversationId", convID, "error", err)
			return
		}
		if !ok {
			return
		}

		ids, err := c.participants.ParticipantIDs(ctx, convID)
		if err != nil {
			c.logger.Error("Failed to resolve typing targets",
				"conversationId", convID, "error", err)
			return
		}

		targets := make([]int64, 0, len(ids)-1)
		for _, id := range ids {
			if id != userID {
				targets = append(targets, id)
			}
		}
		if len(targets) == 0 {
			return
		}

		c.dispatcher.Dispatch(ctx, targets, &proto.ServerEvent{
			Typing: &proto.Typing{
				ConversationId: convID,
				UserId:         userID,
			},
		})
	})
}
