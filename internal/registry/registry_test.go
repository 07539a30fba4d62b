package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/event"
)

type fakeConn struct {
	mu     sync.Mutex
	events []event.Envelope
	closed bool
}

func (c *fakeConn) Send(e event.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeStatus struct {
	mu       sync.Mutex
	online   map[int64]bool
	lastSeen map[int64]time.Time
	onlines  int
}

func newFakeStatus() *fakeStatus {
	return &fakeStatus{online: map[int64]bool{}, lastSeen: map[int64]time.Time{}}
}

func (s *fakeStatus) SetOnline(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[userID] = true
	s.onlines++
	return nil
}

func (s *fakeStatus) SetOffline(_ context.Context, userID int64, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[userID] = false
	s.lastSeen[userID] = lastSeen
	return nil
}

type fakeBroadcast struct {
	mu        sync.Mutex
	snapshots [][]int64
}

func (b *fakeBroadcast) PublishOnline(_ context.Context, userIDs []int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshots = append(b.snapshots, userIDs)
	return nil
}

func (b *fakeBroadcast) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.snapshots)
}

func newTestRegistry() (*Registry, *fakeStatus, *fakeBroadcast) {
	status := newFakeStatus()
	broadcast := &fakeBroadcast{}
	return New(status, broadcast), status, broadcast
}

func TestRegisterMarksOnlineOnFirstConnection(t *testing.T) {
	reg, status, broadcast := newTestRegistry()
	ctx := context.Background()

	reg.Register(ctx, 7, ClassChat, &fakeConn{})
	require.True(t, status.online[7])
	require.Equal(t, 1, broadcast.count())

	// A second connection on another class is not a presence transition.
	reg.Register(ctx, 7, ClassVideo, &fakeConn{})
	assert.Equal(t, 1, status.onlines)
	assert.Equal(t, 1, broadcast.count())
}

func TestRegisterSupersedesSameClass(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	first := &fakeConn{}
	second := &fakeConn{}
	reg.Register(ctx, 7, ClassChat, first)
	reg.Register(ctx, 7, ClassChat, second)

	assert.True(t, first.isClosed())
	assert.False(t, second.isClosed())

	conn, ok := reg.FindBest(7, ClassChat)
	require.True(t, ok)
	assert.Same(t, second, conn.(*fakeConn))
}

func TestUnregisterLastConnectionGoesOffline(t *testing.T) {
	reg, status, broadcast := newTestRegistry()
	ctx := context.Background()

	var gone []int64
	reg.SetOfflineHook(func(userID int64) { gone = append(gone, userID) })

	reg.Register(ctx, 7, ClassChat, &fakeConn{})
	reg.Register(ctx, 7, ClassVoice, &fakeConn{})

	reg.Unregister(ctx, 7, ClassChat, nil)
	assert.True(t, status.online[7], "still reachable on voice")
	assert.Empty(t, gone)

	reg.Unregister(ctx, 7, ClassVoice, nil)
	assert.False(t, status.online[7])
	assert.False(t, status.lastSeen[7].IsZero())
	assert.Equal(t, []int64{7}, gone)
	// register, then one broadcast for the offline transition
	assert.Equal(t, 2, broadcast.count())

	_, ok := reg.FindBest(7, ClassChat)
	assert.False(t, ok)
}

func TestUnregisterUnknownIsNoop(t *testing.T) {
	reg, _, broadcast := newTestRegistry()
	reg.Unregister(context.Background(), 99, ClassChat, nil)
	assert.Equal(t, 0, broadcast.count())
}

func TestSupersededConnectionCannotEvictReplacement(t *testing.T) {
	reg, status, _ := newTestRegistry()
	ctx := context.Background()

	first := &fakeConn{}
	second := &fakeConn{}
	reg.Register(ctx, 7, ClassChat, first)
	reg.Register(ctx, 7, ClassChat, second)

	// The superseded connection's teardown races in after the replacement.
	reg.Unregister(ctx, 7, ClassChat, first)

	conn, ok := reg.FindBest(7, ClassChat)
	require.True(t, ok)
	assert.Same(t, second, conn.(*fakeConn))
	assert.True(t, status.online[7])
}

func TestHeartbeatUnknownConnectionIsNoop(t *testing.T) {
	reg, _, _ := newTestRegistry()
	// Stale message from an evicted connection: must not panic or register.
	reg.Heartbeat(42, ClassChat)
	_, ok := reg.FindBest(42, ClassChat)
	assert.False(t, ok)
}

func TestFindBestFallbackOrder(t *testing.T) {
	tests := []struct {
		name      string
		held      []ChannelClass
		preferred ChannelClass
		want      ChannelClass
		wantNone  bool
	}{
		{name: "video offer prefers video", held: []ChannelClass{ClassChat, ClassVideo}, preferred: ClassVideo, want: ClassVideo},
		{name: "video offer falls back to voice", held: []ChannelClass{ClassChat, ClassVoice}, preferred: ClassVideo, want: ClassVoice},
		{name: "voice offer falls back to chat", held: []ChannelClass{ClassChat}, preferred: ClassVoice, want: ClassChat},
		{name: "no preference picks chat first", held: []ChannelClass{ClassVoice, ClassChat, ClassVideo}, preferred: "", want: ClassChat},
		{name: "no preference falls back to specialized", held: []ChannelClass{ClassVideo}, preferred: "", want: ClassVideo},
		{name: "unreachable", held: nil, preferred: ClassVideo, wantNone: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, _, _ := newTestRegistry()
			conns := map[ChannelClass]*fakeConn{}
			for _, class := range tt.held {
				conns[class] = &fakeConn{}
				reg.Register(context.Background(), 7, class, conns[class])
			}

			conn, ok := reg.FindBest(7, tt.preferred)
			if tt.wantNone {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Same(t, conns[tt.want], conn.(*fakeConn))
		})
	}
}

func TestSweepStaleEvictsAndBatchesBroadcast(t *testing.T) {
	reg, status, broadcast := newTestRegistry()
	ctx := context.Background()

	base := time.Now()
	reg.now = func() time.Time { return base }
	stale1 := &fakeConn{}
	stale2 := &fakeConn{}
	reg.Register(ctx, 7, ClassChat, stale1)
	reg.Register(ctx, 8, ClassChat, stale2)

	reg.now = func() time.Time { return base.Add(60 * time.Second) }
	fresh := &fakeConn{}
	reg.Register(ctx, 9, ClassChat, fresh)

	before := broadcast.count()
	n := reg.SweepStale(ctx, 30*time.Second)

	assert.Equal(t, 2, n)
	assert.True(t, stale1.isClosed())
	assert.True(t, stale2.isClosed())
	assert.False(t, fresh.isClosed())
	assert.False(t, status.online[7])
	assert.False(t, status.online[8])
	assert.True(t, status.online[9])
	assert.Equal(t, before+1, broadcast.count(), "one batched broadcast for the whole sweep")
	assert.Equal(t, []int64{9}, reg.OnlineUsers())
}

func TestSweepStaleSparesHeartbeatedConnections(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	base := time.Now()
	reg.now = func() time.Time { return base }
	reg.Register(ctx, 7, ClassChat, &fakeConn{})

	reg.now = func() time.Time { return base.Add(50 * time.Second) }
	reg.Heartbeat(7, ClassChat)

	reg.now = func() time.Time { return base.Add(70 * time.Second) }
	assert.Equal(t, 0, reg.SweepStale(ctx, 30*time.Second))
	_, ok := reg.FindBest(7, ClassChat)
	assert.True(t, ok)
}

func TestBroadcastAllDeliversOncePerConnection(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	c1 := &fakeConn{}
	c2 := &fakeConn{}
	reg.Register(ctx, 7, ClassChat, c1)
	reg.Register(ctx, 8, ClassChat, c2)

	reg.BroadcastAll(event.Envelope{Type: event.OnlineUsers})
	assert.Len(t, c1.events, 1)
	assert.Len(t, c2.events, 1)
}
