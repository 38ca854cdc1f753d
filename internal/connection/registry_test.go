package connection

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"sudooom.im.sync/internal/proto"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeChannel struct {
	id     int64
	userID int64
	mu     sync.Mutex
	events []*proto.ServerEvent
	closed bool
	active time.Time
}

func (f *fakeChannel) ID() int64     { return f.id }
func (f *fakeChannel) UserID() int64 { return f.userID }
func (f *fakeChannel) SendEvent(ev *proto.ServerEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}
func (f *fakeChannel) LastActive() time.Time { return f.active }
func (f *fakeChannel) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

type recordingPresence struct {
	mu      sync.Mutex
	online  []int64
	offline []int64
}

func (p *recordingPresence) SetOnline(_ context.Context, userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = append(p.online, userID)
}

func (p *recordingPresence) SetOffline(_ context.Context, userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.offline = append(p.offline, userID)
}

func TestRegistry_RegisterAndChannelsFor(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry(nil)
	ctx := context.Background()

	ch1 := &fakeChannel{id: 1, userID: 100}
	ch2 := &fakeChannel{id: 2, userID: 100}

	reg.Register(ctx, 100, ch1)
	reg.Register(ctx, 100, ch2)

	chans := reg.ChannelsFor(100)
	req.Len(chans, 2)
	req.Equal(2, reg.Count())
	req.Equal(1, reg.UserCount())

	req.Empty(reg.ChannelsFor(999))
}

func TestRegistry_PresenceTransitions(t *testing.T) {
	req := require.New(t)
	presence := &recordingPresence{}
	reg := NewRegistry(presence)
	ctx := context.Background()

	// 首条通道触发一次上线
	id1 := reg.Register(ctx, 100, &fakeChannel{id: 1, userID: 100})
	req.Equal([]int64{100}, presence.online)

	// 第二条通道不触发
	id2 := reg.Register(ctx, 100, &fakeChannel{id: 2, userID: 100})
	req.Equal([]int64{100}, presence.online)

	// 还剩一条通道，不触发下线
	reg.Deregister(ctx, id1)
	req.Empty(presence.offline)

	// 最后一条通道触发一次下线
	reg.Deregister(ctx, id2)
	req.Equal([]int64{100}, presence.offline)
}

func TestRegistry_DeregisterUnknownIsNoop(t *testing.T) {
	presence := &recordingPresence{}
	reg := NewRegistry(presence)
	ctx := context.Background()

	// 客户端拆除阶段可能多次断开，未知句柄不得报错也不得触发状态转换
	reg.Deregister(ctx, uuid.New())

	id := reg.Register(ctx, 100, &fakeChannel{id: 1, userID: 100})
	reg.Deregister(ctx, id)
	reg.Deregister(ctx, id)

	require.Equal(t, []int64{100}, presence.online)
	require.Equal(t, []int64{100}, presence.offline)
}

func TestRegistry_ConcurrentRegisterDeregister(t *testing.T) {
	reg := NewRegistry(&recordingPresence{})
	ctx := context.Background()

	const users = 10
	const channelsPerUser = 20

	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		for c := 0; c < channelsPerUser; c++ {
			wg.Add(1)
			go func(userID, chID int64) {
				defer wg.Done()
				id := reg.Register(ctx, userID, &fakeChannel{id: chID, userID: userID})
				reg.Deregister(ctx, id)
			}(int64(u), int64(u*channelsPerUser+c))
		}
	}
	wg.Wait()

	require.Equal(t, 0, reg.Count())
	require.Equal(t, 0, reg.UserCount())
}

// statefulPresence 把转换序列折叠成最终状态，用于校验到达顺序
type statefulPresence struct {
	mu     sync.Mutex
	online map[int64]bool
}

func (p *statefulPresence) SetOnline(_ context.Context, userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[userID] = true
}

func (p *statefulPresence) SetOffline(_ context.Context, userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[userID] = false
}

func TestRegistry_PresenceOrderUnderChurn(t *testing.T) {
	req := require.New(t)
	presence := &statefulPresence{online: make(map[int64]bool)}
	reg := NewRegistry(presence)
	ctx := context.Background()

	// 同一用户快速断开重连时，上线/下线必须按注册表状态的真实顺序到达：
	// 乱序到达会让已全部下线的用户残留在线状态
	const users = 4
	const rounds = 200

	var wg sync.WaitGroup
	for u := 1; u <= users; u++ {
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func(userID int64) {
				defer wg.Done()
				for i := 0; i < rounds; i++ {
					id := reg.Register(ctx, userID, &fakeChannel{id: userID, userID: userID})
					reg.Deregister(ctx, id)
				}
			}(int64(u))
		}
	}
	wg.Wait()

	req.Equal(0, reg.UserCount())
	for u := int64(1); u <= users; u++ {
		req.False(presence.online[u], "user %d left online after all channels deregistered", u)
	}
}

func TestHeartbeatChecker_ClosesIdleChannels(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry(nil)
	ctx := context.Background()

	idle := &fakeChannel{id: 1, userID: 100, active: time.Now().Add(-5 * time.Minute)}
	fresh := &fakeChannel{id: 2, userID: 100, active: time.Now()}
	reg.Register(ctx, 100, idle)
	reg.Register(ctx, 100, fresh)

	checker := NewHeartbeatChecker(reg, time.Minute, time.Minute, discardLogger())
	checker.sweep()

	req.True(idle.closed)
	req.False(fresh.closed)
}
