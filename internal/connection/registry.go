package connection

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// PresenceSink 在线状态转换的接收方
// 首个通道注册触发上线，最后一个通道注销触发下线
type PresenceSink interface {
	SetOnline(ctx context.Context, userID int64)
	SetOffline(ctx context.Context, userID int64)
}

// RegistrationID 一次通道注册的句柄
type RegistrationID = uuid.UUID

type registration struct {
	userID  int64
	channel Sender
}

// Registry 连接注册表
// 维护 userID 到其所有活跃通道的映射；一个用户可同时持有 0..N 条通道
type Registry struct {
	mu       sync.RWMutex
	regs     map[RegistrationID]*registration
	users    map[int64]map[RegistrationID]Sender
	presence PresenceSink
}

// NewRegistry 创建连接注册表
func NewRegistry(presence PresenceSink) *Registry {
	return &Registry{
		regs:     make(map[RegistrationID]*registration),
		users:    make(map[int64]map[RegistrationID]Sender),
		presence: presence,
	}
}

// BindPresence 绑定在线状态接收方
// 状态跟踪器的广播路径依赖分发器，分发器又依赖注册表，
// 因此在装配阶段后绑定，开始服务前完成
func (r *Registry) BindPresence(presence PresenceSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presence = presence
}

// Register 注册一条通道，返回注册句柄
// 该用户的首条通道会触发一次上线转换
func (r *Registry) Register(ctx context.Context, userID int64, ch Sender) RegistrationID {
	id := uuid.New()

	r.mu.Lock()
	r.regs[id] = &registration{userID: userID, channel: ch}
	chans, ok := r.users[userID]
	if !ok {
		chans = make(map[RegistrationID]Sender)
		r.users[userID] = chans
	}
	first := len(chans) == 0
	chans[id] = ch

	// 状态转换在锁内触发：同一用户快速断开重连时，上线/下线必须按
	// 注册表状态的真实顺序到达 presence。广播路径是异步的（worker 内
	// 回读注册表走读锁），不会在这里形成环
	if first && r.presence != nil {
		r.presence.SetOnline(ctx, userID)
	}
	r.mu.Unlock()
	return id
}

// Deregister 注销一条通道
// 未知句柄是 no-op：客户端在拆除阶段可能多次断开
// 该用户的最后一条通道注销会触发一次下线转换
func (r *Registry) Deregister(ctx context.Context, id RegistrationID) {
	r.mu.Lock()
	reg, ok := r.regs[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.regs, id)

	last := false
	if chans, ok := r.users[reg.userID]; ok {
		delete(chans, id)
		if len(chans) == 0 {
			delete(r.users, reg.userID)
			last = true
		}
	}
	if last && r.presence != nil {
		r.presence.SetOffline(ctx, reg.userID)
	}
	r.mu.Unlock()
}

// ChannelsFor 返回用户当前所有活跃通道
func (r *Registry) ChannelsFor(userID int64) []Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chans, ok := r.users[userID]
	if !ok {
		return nil
	}
	out := make([]Sender, 0, len(chans))
	for _, ch := range chans {
		out = append(out, ch)
	}
	return out
}

// All 返回所有注册通道（心跳检测使用）
func (r *Registry) All() []Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Sender, 0, len(r.regs))
	for _, reg := range r.regs {
		out = append(out, reg.channel)
	}
	return out
}

// Count 当前通道总数
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.regs)
}

// UserCount 当前在线用户数
func (r *Registry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
