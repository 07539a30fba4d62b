package registry

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"chatrelay/internal/event"
)

// ChannelClass identifies what a live connection is for. A user holds at
// most one live connection per class.
type ChannelClass string

const (
	ClassChat  ChannelClass = "chat"
	ClassVoice ChannelClass = "voice"
	ClassVideo ChannelClass = "video"
)

// ParseClass maps the ?channel= query value to a class, defaulting to chat.
func ParseClass(s string) ChannelClass {
	switch ChannelClass(s) {
	case ClassVoice:
		return ClassVoice
	case ClassVideo:
		return ClassVideo
	default:
		return ClassChat
	}
}

// Conn is the transport handle the registry owns. Send must not block;
// Close must be safe to call more than once.
type Conn interface {
	Send(e event.Envelope) error
	Close()
}

// StatusStore flips the durable online flag. Only registry transitions ever
// call it; the flag is derived state, not an independent source of truth.
type StatusStore interface {
	SetOnline(ctx context.Context, userID int64) error
	SetOffline(ctx context.Context, userID int64, lastSeen time.Time) error
}

// Broadcaster carries the online-users snapshot out of process. The redis
// implementation loops it back to every local connection.
type Broadcaster interface {
	PublishOnline(ctx context.Context, userIDs []int64) error
}

type entry struct {
	conn     Conn
	lastBeat time.Time
}

// Registry is the single source of truth for who is reachable and how.
// All map access happens under one mutex; persistence and broadcasts happen
// strictly outside it.
type Registry struct {
	mu    sync.Mutex
	conns map[int64]map[ChannelClass]*entry

	status    StatusStore
	broadcast Broadcaster
	onOffline func(userID int64)
	now       func() time.Time
}

func New(status StatusStore, broadcast Broadcaster) *Registry {
	return &Registry{
		conns:     make(map[int64]map[ChannelClass]*entry),
		status:    status,
		broadcast: broadcast,
		now:       time.Now,
	}
}

// SetOfflineHook installs a callback fired after a user loses their last
// connection. The call coordinator uses it to drop the user from group
// sessions. Must be set before connections start arriving.
func (r *Registry) SetOfflineHook(fn func(userID int64)) {
	r.onOffline = fn
}

// Register stores a new live connection. An existing connection for the same
// (user, class) is superseded and closed. The first connection across all
// classes marks the user online and triggers an online-users broadcast.
func (r *Registry) Register(ctx context.Context, userID int64, class ChannelClass, conn Conn) {
	r.mu.Lock()
	byClass := r.conns[userID]
	if byClass == nil {
		byClass = make(map[ChannelClass]*entry)
		r.conns[userID] = byClass
	}
	first := len(byClass) == 0
	var superseded Conn
	if old, ok := byClass[class]; ok {
		superseded = old.conn
	}
	byClass[class] = &entry{conn: conn, lastBeat: r.now()}
	r.mu.Unlock()

	if superseded != nil {
		superseded.Close()
	}
	if first {
		if err := r.status.SetOnline(ctx, userID); err != nil {
			log.Printf("registry: mark user %d online: %v", userID, err)
		}
		r.publishOnline(ctx)
	}
}

// Heartbeat refreshes the liveness stamp for (user, class). A heartbeat from
// a connection that was already evicted is silently ignored.
func (r *Registry) Heartbeat(userID int64, class ChannelClass) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[userID][class]; ok {
		e.lastBeat = r.now()
	}
}

// Unregister removes a connection on explicit close or transport error. If it
// was the user's last one, they go offline (lastSeen recorded) and an
// online-users broadcast goes out. A non-nil conn must match the stored entry:
// a superseded connection tearing down must not evict its replacement.
func (r *Registry) Unregister(ctx context.Context, userID int64, class ChannelClass, conn Conn) {
	r.mu.Lock()
	byClass, ok := r.conns[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	e, ok := byClass[class]
	if !ok || (conn != nil && e.conn != conn) {
		r.mu.Unlock()
		return
	}
	delete(byClass, class)
	last := len(byClass) == 0
	if last {
		delete(r.conns, userID)
	}
	r.mu.Unlock()

	if last {
		r.wentOffline(ctx, userID)
		r.publishOnline(ctx)
	}
}

// SweepStale evicts every connection whose last heartbeat is older than
// timeout, closing the transport. Users left with zero connections go
// offline; the resulting broadcast is batched into one message. Returns the
// number of connections evicted.
func (r *Registry) SweepStale(ctx context.Context, timeout time.Duration) int {
	deadline := r.now().Add(-timeout)

	var stale []Conn
	var offline []int64
	r.mu.Lock()
	for userID, byClass := range r.conns {
		for class, e := range byClass {
			if e.lastBeat.Before(deadline) {
				stale = append(stale, e.conn)
				delete(byClass, class)
			}
		}
		if len(byClass) == 0 {
			delete(r.conns, userID)
			offline = append(offline, userID)
		}
	}
	r.mu.Unlock()

	for _, c := range stale {
		c.Close()
	}
	for _, userID := range offline {
		r.wentOffline(ctx, userID)
	}
	if len(offline) > 0 {
		r.publishOnline(ctx)
	}
	return len(stale)
}

// FindBest returns the most appropriate live connection for a payload.
// With a specialized preference (voice/video) the order is: preferred class,
// the other specialized class, then the general chat channel. Without one,
// the chat channel is tried first. The ok result is false when the user is
// unreachable; callers treat that as "deliver later via pull", not an error.
func (r *Registry) FindBest(userID int64, preferred ChannelClass) (Conn, bool) {
	var order []ChannelClass
	switch preferred {
	case ClassVoice:
		order = []ChannelClass{ClassVoice, ClassVideo, ClassChat}
	case ClassVideo:
		order = []ChannelClass{ClassVideo, ClassVoice, ClassChat}
	default:
		order = []ChannelClass{ClassChat, ClassVoice, ClassVideo}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	byClass, ok := r.conns[userID]
	if !ok {
		return nil, false
	}
	for _, class := range order {
		if e, ok := byClass[class]; ok {
			return e.conn, true
		}
	}
	return nil, false
}

// OnlineUsers returns a sorted snapshot of user ids with at least one live
// connection.
func (r *Registry) OnlineUsers() []int64 {
	r.mu.Lock()
	ids := make([]int64, 0, len(r.conns))
	for userID := range r.conns {
		ids = append(ids, userID)
	}
	r.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// BroadcastAll pushes an event to every live connection. Used by the presence
// subscriber to fan incoming snapshots back out.
func (r *Registry) BroadcastAll(e event.Envelope) {
	r.mu.Lock()
	conns := make([]Conn, 0, len(r.conns))
	for _, byClass := range r.conns {
		seen := make(map[Conn]bool, len(byClass))
		for _, en := range byClass {
			if !seen[en.conn] {
				seen[en.conn] = true
				conns = append(conns, en.conn)
			}
		}
	}
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.Send(e)
	}
}

// RunSweeper drives SweepStale on a fixed interval until ctx is cancelled.
func (r *Registry) RunSweeper(ctx context.Context, every, timeout time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.SweepStale(ctx, timeout); n > 0 {
				log.Printf("registry: evicted %d stale connections", n)
			}
		}
	}
}

func (r *Registry) wentOffline(ctx context.Context, userID int64) {
	if err := r.status.SetOffline(ctx, userID, r.now()); err != nil {
		log.Printf("registry: mark user %d offline: %v", userID, err)
	}
	if r.onOffline != nil {
		r.onOffline(userID)
	}
}

func (r *Registry) publishOnline(ctx context.Context) {
	if err := r.broadcast.PublishOnline(ctx, r.OnlineUsers()); err != nil {
		log.Printf("registry: publish online users: %v", err)
	}
}
