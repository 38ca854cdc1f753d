package typing

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sudooom.im.sync/internal/proto"
	"sudooom.im.sync/internal/workerpool"
)

type fakeParticipants struct {
	members map[int64][]int64
}

func (f *fakeParticipants) IsParticipant(_ context.Context, convID, userID int64) (bool, error) {
	for _, id := range f.members[convID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeParticipants) ParticipantIDs(_ context.Context, convID int64) ([]int64, error) {
	return f.members[convID], nil
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

func newTestCoordinator(members map[int64][]int64) (*Coordinator, *recordingDispatcher, *workerpool.Pool) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	pool := workerpool.New(2, 64, logger)
	dispatcher := &recordingDispatcher{}
	coord := NewCoordinator(&fakeParticipants{members: members}, dispatcher, pool)
	return coord, dispatcher, pool
}

func waitFor(t *testing.T, d *recordingDispatcher, n int) {
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

func TestCoordinator_ForwardsToOtherParticipants(t *testing.T) {
	req := require.New(t)
	coord, dispatcher, pool := newTestCoordinator(map[int64][]int64{1: {100, 200, 300}})
	defer pool.Shutdown()

	coord.SignalTyping(100, 1)
	waitFor(t, dispatcher, 1)

	dispatcher.mu.Lock()
	ev := dispatcher.events[0]
	targets := dispatcher.targets[0]
	dispatcher.mu.Unlock()

	req.NotNil(ev.Typing)
	req.Equal(int64(1), ev.Typing.ConversationId)
	req.Equal(int64(100), ev.Typing.UserId)
	// 发送者自己不在目标集合中
	req.ElementsMatch([]int64{200, 300}, targets)
}

func TestCoordinator_NonParticipantDropped(t *testing.T) {
	coord, dispatcher, pool := newTestCoordinator(map[int64][]int64{1: {100, 200}})
	defer pool.Shutdown()

	coord.SignalTyping(999, 1)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, dispatcher.count())
}

func TestCoordinator_SoleParticipantNoDispatch(t *testing.T) {
	coord, dispatcher, pool := newTestCoordinator(map[int64][]int64{1: {100}})
	defer pool.Shutdown()

	coord.SignalTyping(100, 1)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, dispatcher.count())
}
