package clientcache

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"sudooom.im.sync/internal/model"
	"sudooom.im.sync/internal/proto"
	"sudooom.im.sync/internal/typing"
)

// Session 单个已认证身份的本地缓存
// 镜像服务端下发的事件流与分页回填，是参考客户端的对账层：
// 同一事件收到任意多次，缓存收敛到同一状态
type Session struct {
	mu       sync.Mutex
	userID   int64
	logs     map[int64]*conversationLog
	typing   map[typingKey]time.Time
	presence map[int64]model.PresenceStatus
	unread   map[int64]int
	logger   *slog.Logger
}

type typingKey struct {
	convID int64
	userID int64
}

// conversationLog 单个会话的有序消息日志
// ordered 按规范排序键 (CreatedAt, Id) 升序；本地乐观条目以 tempId 索引，
// 在收到 Ack 时被规范消息原位替换
type conversationLog struct {
	ordered []*model.Message
	byID    map[int64]*model.Message
	byTemp  map[string]*model.Message
}

// NewSession 创建会话缓存
// 每个已认证身份持有自己的实例，由调用方注入，不存在进程级单例
func NewSession(userID int64, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		userID:   userID,
		logs:     make(map[int64]*conversationLog),
		typing:   make(map[typingKey]time.Time),
		presence: make(map[int64]model.PresenceStatus),
		unread:   make(map[int64]int),
		logger:   logger,
	}
}

// UserID 缓存归属的身份
func (s *Session) UserID() int64 {
	return s.userID
}

func (s *Session) log(convID int64) *conversationLog {
	l, ok := s.logs[convID]
	if !ok {
		l = &conversationLog{
			byID:   make(map[int64]*model.Message),
			byTemp: make(map[string]*model.Message),
		}
		s.logs[convID] = l
	}
	return l
}

// ApplyLocalSend 插入本地乐观条目
// 条目尚无规范 ID，展示在日志尾部，等待 Ack 原位替换
func (s *Session) ApplyLocalSend(convID int64, tempID string, draft model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.log(convID)
	if _, ok := l.byTemp[tempID]; ok {
		return // 重复的本地发送
	}

	draft.ConversationId = convID
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = time.Now()
	}
	entry := &draft
	l.byTemp[tempID] = entry
	l.insert(entry)
}

// ApplyServerAck 用规范消息替换乐观条目
// tempId 未知时退化为普通合并（Ack 先于本地记录到达，或重复 Ack）
func (s *Session) ApplyServerAck(tempID string, canonical model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.log(canonical.ConversationId)
	if pending, ok := l.byTemp[tempID]; ok {
		l.remove(pending)
		delete(l.byTemp, tempID)
	}
	l.upsert(&canonical)
}

// MergePage 合并一页历史回填
// 以规范 ID 为键幂等合并；已软删除的行不进入可见日志
func (s *Session) MergePage(convID int64, messages []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.log(convID)
	for i := range messages {
		msg := messages[i]
		if msg.Deleted() {
			if existing, ok := l.byID[msg.Id]; ok {
				l.remove(existing)
				delete(l.byID, msg.Id)
			}
			continue
		}
		l.upsert(&msg)
	}
}

// ApplyIncomingEvent 应用一条下行事件
// 未知或畸形的事件被丢弃并记录，绝不 panic
func (s *Session) ApplyIncomingEvent(ev *proto.ServerEvent) {
	if ev == nil {
		return
	}

	switch {
	case ev.ReceiveMessage != nil:
		s.mergeMessage(*ev.ReceiveMessage)
	case ev.MessageAck != nil:
		s.ApplyServerAck(ev.MessageAck.TempId, ev.MessageAck.Message)
	case ev.MessageWasDelivered != nil:
		s.applyDelivered(ev.MessageWasDelivered)
	case ev.MessageSeen != nil:
		s.applySeen(ev.MessageSeen)
	case ev.MessageReacted != nil:
		s.mergeMessage(*ev.MessageReacted)
	case ev.MessageEdited != nil:
		s.mergeMessage(*ev.MessageEdited)
	case ev.MessageDeleted != nil:
		s.applyDeleted(ev.MessageDeleted)
	case ev.Typing != nil:
		s.applyTyping(ev.Typing)
	case ev.UserStatusChanged != nil:
		s.applyPresence(ev.UserStatusChanged)
	case ev.ConversationPage != nil:
		s.applyConversationPage(ev.ConversationPage)
	case ev.MessagePage != nil:
		s.MergePage(ev.MessagePage.ConversationId, ev.MessagePage.Messages)
	case ev.AuthAck != nil, ev.Error != nil:
		// 请求层关心的响应，对缓存无副作用
	default:
		s.logger.Warn("Dropping event with unknown shape")
	}
}

func (s *Session) mergeMessage(msg model.Message) {
	if msg.Id == 0 || msg.ConversationId == 0 {
		s.logger.Warn("Dropping message event without identity",
			"messageId", msg.Id, "conversationId", msg.ConversationId)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log(msg.ConversationId).upsert(&msg)
}

func (s *Session) applyDelivered(ev *proto.MessageWasDelivered) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.log(ev.ConversationId)
	msg, ok := l.byID[ev.MessageId]
	if !ok {
		return // 本地尚未见过该消息，回填时自带送达状态
	}
	if msg.DeliveredAt == nil {
		at := ev.DeliveredAt
		msg.DeliveredAt = &at
	}
}

func (s *Session) applySeen(ev *proto.MessageSeen) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.log(ev.ConversationId)
	msg, ok := l.byID[ev.MessageId]
	if !ok {
		return
	}
	if msg.ReadBy(ev.UserId) {
		return // 回执只插入一次
	}
	msg.Receipts = append(msg.Receipts, model.ReadReceipt{
		MessageId: ev.MessageId,
		UserId:    ev.UserId,
		ReadAt:    ev.ReadAt,
	})
}

func (s *Session) applyDeleted(ev *proto.MessageDeleted) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l := s.log(ev.ConversationId)
	if msg, ok := l.byID[ev.MessageId]; ok {
		l.remove(msg)
		delete(l.byID, ev.MessageId)
	}
}

func (s *Session) applyTyping(ev *proto.Typing) {
	if ev.UserId == s.userID {
		return // 自己的输入信号不展示
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing[typingKey{convID: ev.ConversationId, userID: ev.UserId}] = time.Now()
}

func (s *Session) applyPresence(ev *proto.UserStatusChanged) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence[ev.UserId] = ev.Status
}

func (s *Session) applyConversationPage(page *proto.ConversationPage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range page.Conversations {
		s.unread[page.Conversations[i].Id] = page.Conversations[i].UnreadCount
	}
}

// Messages 返回会话可见日志的有序快照
func (s *Session) Messages(convID int64) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.logs[convID]
	if !ok {
		return nil
	}
	out := make([]model.Message, len(l.ordered))
	for i, msg := range l.ordered {
		out[i] = *msg
	}
	return out
}

// PendingCount 等待 Ack 的乐观条目数
func (s *Session) PendingCount(convID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[convID]
	if !ok {
		return 0
	}
	return len(l.byTemp)
}

// TypingUsers 当前仍在输入的用户（应用 2 秒过期规则）
func (s *Session) TypingUsers(convID int64, now time.Time) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var users []int64
	for key, at := range s.typing {
		if key.convID != convID {
			continue
		}
		if now.Sub(at) <= typing.ClientExpiry {
			users = append(users, key.userID)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

// ExpireTyping 清除超过过期阈值的输入指示
func (s *Session) ExpireTyping(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, at := range s.typing {
		if now.Sub(at) > typing.ClientExpiry {
			delete(s.typing, key)
		}
	}
}

// PresenceOf 联系人的最近已知状态，未知按离线处理
func (s *Session) PresenceOf(userID int64) model.PresenceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.presence[userID]; ok {
		return st
	}
	return model.PresenceOffline
}

// UnreadCount 单个会话的未读角标
func (s *Session) UnreadCount(convID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[convID]
}

// TotalUnread 全局未读角标
func (s *Session) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.unread {
		total += n
	}
	return total
}

// ============== conversationLog ==============

// insert 按排序键二分插入
func (l *conversationLog) insert(msg *model.Message) {
	i := sort.Search(len(l.ordered), func(i int) bool {
		return !model.MessageLess(l.ordered[i], msg)
	})
	l.ordered = append(l.ordered, nil)
	copy(l.ordered[i+1:], l.ordered[i:])
	l.ordered[i] = msg
	if msg.Id != 0 {
		l.byID[msg.Id] = msg
	}
}

// upsert 以规范 ID 为键合并：已知消息原位覆盖，未知消息按序插入
func (l *conversationLog) upsert(msg *model.Message) {
	if existing, ok := l.byID[msg.Id]; ok {
		*existing = *msg
		l.byID[msg.Id] = existing
		return
	}
	l.insert(msg)
}

// remove 从有序日志移除一个条目
func (l *conversationLog) remove(msg *model.Message) {
	for i, m := range l.ordered {
		if m == msg {
			l.ordered = append(l.ordered[:i], l.ordered[i+1:]...)
			return
		}
	}
}
