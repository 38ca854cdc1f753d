package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sudooom.im.sync/internal/connection"
	apperrors "sudooom.im.sync/internal/errors"
	"sudooom.im.sync/internal/proto"
)

type fakeChannel struct {
	id     int64
	userID int64
	broken bool
	mu     sync.Mutex
	events []*proto.ServerEvent
}

func (f *fakeChannel) ID() int64     { return f.id }
func (f *fakeChannel) UserID() int64 { return f.userID }
func (f *fakeChannel) SendEvent(ev *proto.ServerEvent) error {
	if f.broken {
		return apperrors.ErrChannelClosed
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}
func (f *fakeChannel) LastActive() time.Time { return time.Now() }
func (f *fakeChannel) Close()                {}

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type recordingPublisher struct {
	mu        sync.Mutex
	envelopes []*proto.EventEnvelope
	err       error
}

func (p *recordingPublisher) PublishEnvelope(env *proto.EventEnvelope) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.envelopes = append(p.envelopes, env)
	return nil
}

func typingEvent(convID, userID int64) *proto.ServerEvent {
	return &proto.ServerEvent{Typing: &proto.Typing{ConversationId: convID, UserId: userID}}
}

func TestDispatcher_LocalFanOut(t *testing.T) {
	req := require.New(t)
	reg := connection.NewRegistry(nil)
	ctx := context.Background()

	ch1 := &fakeChannel{id: 1, userID: 100}
	ch2 := &fakeChannel{id: 2, userID: 100}
	ch3 := &fakeChannel{id: 3, userID: 200}
	other := &fakeChannel{id: 4, userID: 999}
	reg.Register(ctx, 100, ch1)
	reg.Register(ctx, 100, ch2)
	reg.Register(ctx, 200, ch3)
	reg.Register(ctx, 999, other)

	d := NewDispatcher(reg, nil, "node-a", nil)
	d.Dispatch(ctx, []int64{100, 200}, typingEvent(1, 300))

	// 目标用户的每条通道恰好收到一次
	req.Equal(1, ch1.count())
	req.Equal(1, ch2.count())
	req.Equal(1, ch3.count())
	// 非目标用户不受影响
	req.Equal(0, other.count())
}

func TestDispatcher_BrokenChannelSkipped(t *testing.T) {
	req := require.New(t)
	reg := connection.NewRegistry(nil)
	ctx := context.Background()

	broken := &fakeChannel{id: 1, userID: 100, broken: true}
	healthy := &fakeChannel{id: 2, userID: 100}
	reg.Register(ctx, 100, broken)
	reg.Register(ctx, 100, healthy)

	d := NewDispatcher(reg, nil, "node-a", nil)
	d.Dispatch(ctx, []int64{100}, typingEvent(1, 300))

	// 失败的通道不影响其余通道，且不重试
	req.Equal(0, broken.count())
	req.Equal(1, healthy.count())
}

func TestDispatcher_PublishesEnvelopeWithOrigin(t *testing.T) {
	req := require.New(t)
	reg := connection.NewRegistry(nil)
	pub := &recordingPublisher{}
	ctx := context.Background()

	d := NewDispatcher(reg, pub, "node-a", nil)
	d.Dispatch(ctx, []int64{100, 200}, typingEvent(1, 300))

	req.Len(pub.envelopes, 1)
	env := pub.envelopes[0]
	req.Equal([]int64{100, 200}, env.Targets)
	req.Equal("node-a", env.Event.OriginNode)
	req.NotNil(env.Event.Typing)
}

func TestDispatcher_HandleRemote(t *testing.T) {
	req := require.New(t)
	reg := connection.NewRegistry(nil)
	ctx := context.Background()

	ch := &fakeChannel{id: 1, userID: 100}
	reg.Register(ctx, 100, ch)

	d := NewDispatcher(reg, &recordingPublisher{}, "node-a", nil)

	// 其他节点的信封投递到本地通道
	remote := &proto.EventEnvelope{
		Targets: []int64{100},
		Event:   proto.ServerEvent{OriginNode: "node-b", Typing: &proto.Typing{ConversationId: 1, UserId: 300}},
	}
	d.HandleRemote(ctx, remote)
	req.Equal(1, ch.count())

	// 自己发布的信封回环时丢弃，避免重复投递
	loop := &proto.EventEnvelope{
		Targets: []int64{100},
		Event:   proto.ServerEvent{OriginNode: "node-a", Typing: &proto.Typing{ConversationId: 1, UserId: 300}},
	}
	d.HandleRemote(ctx, loop)
	req.Equal(1, ch.count())
}

func TestDispatcher_PublishFailureKeepsLocalDelivery(t *testing.T) {
	req := require.New(t)
	reg := connection.NewRegistry(nil)
	ctx := context.Background()

	ch := &fakeChannel{id: 1, userID: 100}
	reg.Register(ctx, 100, ch)

	pub := &recordingPublisher{err: apperrors.ErrUpstreamError}
	d := NewDispatcher(reg, pub, "node-a", nil)
	d.Dispatch(ctx, []int64{100}, typingEvent(1, 300))

	req.Equal(1, ch.count())
}
