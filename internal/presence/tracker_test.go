package presence

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sudooom.im.sync/internal/model"
	"sudooom.im.sync/internal/proto"
	"sudooom.im.sync/internal/workerpool"
)

type fakeContacts struct {
	contacts map[int64][]int64
}

func (f *fakeContacts) ContactIDs(_ context.Context, userID int64) ([]int64, error) {
	return f.contacts[userID], nil
}

type recordingDispatcher struct {
	mu      sync.Mutex
	events  []*proto.ServerEvent
	targets [][]int64
}

func (d *recordingDispatcher) Dispatch(_ context.Context, targets []int64, ev *proto.ServerEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	d.targets = append(d.targets, targets)
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

func (d *recordingDispatcher) waitFor(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if d.count() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d dispatches, got %d", n, d.count())
}

func newTestTracker(contacts map[int64][]int64) (*Tracker, *recordingDispatcher, *workerpool.Pool) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pool := workerpool.New(2, 64, logger)
	dispatcher := &recordingDispatcher{}
	tracker := NewTracker(&fakeContacts{contacts: contacts}, dispatcher, pool)
	return tracker, dispatcher, pool
}

func TestTracker_OnlineOfflineBroadcast(t *testing.T) {
	req := require.New(t)
	tracker, dispatcher, pool := newTestTracker(map[int64][]int64{100: {200, 300}})
	defer pool.Shutdown()
	ctx := context.Background()

	tracker.SetOnline(ctx, 100)
	req.True(tracker.IsOnline(100))
	dispatcher.waitFor(t, 1)

	dispatcher.mu.Lock()
	ev := dispatcher.events[0]
	targets := dispatcher.targets[0]
	dispatcher.mu.Unlock()

	req.NotNil(ev.UserStatusChanged)
	req.Equal(int64(100), ev.UserStatusChanged.UserId)
	req.Equal(model.PresenceOnline, ev.UserStatusChanged.Status)
	req.ElementsMatch([]int64{200, 300}, targets)

	tracker.SetOffline(ctx, 100)
	req.False(tracker.IsOnline(100))
	dispatcher.waitFor(t, 2)

	dispatcher.mu.Lock()
	ev = dispatcher.events[1]
	dispatcher.mu.Unlock()
	req.Equal(model.PresenceOffline, ev.UserStatusChanged.Status)
}

func TestTracker_IdempotentTransitions(t *testing.T) {
	req := require.New(t)
	tracker, dispatcher, pool := newTestTracker(map[int64][]int64{100: {200}})
	defer pool.Shutdown()
	ctx := context.Background()

	// 重复上线只广播一次
	tracker.SetOnline(ctx, 100)
	tracker.SetOnline(ctx, 100)
	tracker.SetOnline(ctx, 100)
	dispatcher.waitFor(t, 1)
	time.Sleep(50 * time.Millisecond)
	req.Equal(1, dispatcher.count())

	// 未上线用户的下线是 no-op
	tracker.SetOffline(ctx, 999)
	time.Sleep(50 * time.Millisecond)
	req.Equal(1, dispatcher.count())
}

func TestTracker_NoContactsNoBroadcast(t *testing.T) {
	tracker, dispatcher, pool := newTestTracker(map[int64][]int64{})
	defer pool.Shutdown()
	ctx := context.Background()

	// 无共享会话的用户上线不产生任何广播
	tracker.SetOnline(ctx, 100)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, dispatcher.count())
}

func TestTracker_Entry(t *testing.T) {
	req := require.New(t)
	tracker, _, pool := newTestTracker(map[int64][]int64{})
	defer pool.Shutdown()
	ctx := context.Background()

	entry := tracker.Entry(100)
	req.Equal(model.PresenceOffline, entry.Status)

	tracker.SetOnline(ctx, 100)
	entry = tracker.Entry(100)
	req.Equal(model.PresenceOnline, entry.Status)
	req.Equal(1, tracker.OnlineCount())

	tracker.SetOffline(ctx, 100)
	entry = tracker.Entry(100)
	req.Equal(model.PresenceOffline, entry.Status)
	req.False(entry.LastSeenAt.IsZero())
}
