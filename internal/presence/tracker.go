package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"sudooom.im.sync/internal/model"
	"sudooom.im.sync/internal/proto"
	"sudooom.im.sync/internal/workerpool"
)

// ContactSource 提供与某用户共享至少一个会话的用户集合
type ContactSource interface {
	ContactIDs(ctx context.Context, userID int64) ([]int64, error)
}

// Dispatcher 事件分发端（本地通道 + 跨节点）
type Dispatcher interface {
	Dispatch(ctx context.Context, targets []int64, ev *proto.ServerEvent)
}

// Tracker 在线状态跟踪器
// 每个用户任一时刻只有一个权威状态；状态由活跃通道集合推导，
// 重复转换（online→online）静默丢弃，不产生广播
type Tracker struct {
	mu         sync.RWMutex
	online     map[int64]time.Time
	lastSeen   map[int64]time.Time
	contacts   ContactSource
	dispatcher Dispatcher
	pool       *workerpool.Pool
	logger     *slog.Logger
}

// NewTracker 创建在线状态跟踪器
func NewTracker(contacts ContactSource, dispatcher Dispatcher, pool *workerpool.Pool) *Tracker {
	return &Tracker{
		online:     make(map[int64]time.Time),
		lastSeen:   make(map[int64]time.Time),
		contacts:   contacts,
		dispatcher: dispatcher,
		pool:       pool,
		logger:     slog.Default(),
	}
}

// SetOnline 标记用户上线
// 幂等：已在线时不广播
func (t *Tracker) SetOnline(ctx context.Context, userID int64) {
	t.mu.Lock()
	if _, ok := t.online[userID]; ok {
		t.mu.Unlock()
		return
	}
	t.online[userID] = time.Now()
	t.mu.Unlock()

	t.logger.Debug("User online", "userId", userID)
	t.broadcast(userID, model.PresenceOnline)
}

// SetOffline 标记用户下线
// 幂等：已离线时不广播
func (t *Tracker) SetOffline(ctx context.Context, userID int64) {
	t.mu.Lock()
	if _, ok := t.online[userID]; !ok {
		t.mu.Unlock()
		return
	}
	delete(t.online, userID)
	t.lastSeen[userID] = time.Now()
	t.mu.Unlock()

	t.logger.Debug("User offline", "userId", userID)
	t.broadcast(userID, model.PresenceOffline)
}

// broadcast 向共享会话的用户异步广播状态变化
// 联系人解析与分发在 worker pool 中执行，不阻塞会话循环
func (t *Tracker) broadcast(userID int64, status model.PresenceStatus) {
	if t.contacts == nil || t.dispatcher == nil {
		return
	}

	submitted := t.pool.TrySubmit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		targets, err := t.contacts.ContactIDs(ctx, userID)
		if err != nil {
			t.logger.Error("Failed to resolve contacts for presence broadcast",
				"userId", userID, "error", err)
			return
		}
		if len(targets) == 0 {
			return
		}

		t.dispatcher.Dispatch(ctx, targets, &proto.ServerEvent{
			UserStatusChanged: &proto.UserStatusChanged{
				UserId: userID,
				Status: status,
			},
		})
	})
	if !submitted {
		t.logger.Warn("Presence broadcast dropped, worker queue full", "userId", userID)
	}
}

// IsOnline 用户当前是否在线
func (t *Tracker) IsOnline(userID int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[userID]
	return ok
}

// Entry 返回用户当前状态
func (t *Tracker) Entry(userID int64) model.PresenceEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if since, ok := t.online[userID]; ok {
		return model.PresenceEntry{UserId: userID, Status: model.PresenceOnline, LastSeenAt: since}
	}
	return model.PresenceEntry{UserId: userID, Status: model.PresenceOffline, LastSeenAt: t.lastSeen[userID]}
}

// OnlineCount 当前在线用户数
func (t *Tracker) OnlineCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.online)
}
