package call

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"chatrelay/internal/chat"
	"chatrelay/internal/event"
)

// Leave reasons broadcast with group_call_user_left.
const (
	ReasonLeft         = "left"
	ReasonDisconnected = "disconnected"
)

type participant struct {
	UserID   int64     `json:"user_id"`
	Username string    `json:"username"`
	Type     string    `json:"type"`
	JoinedAt time.Time `json:"joined_at"`
}

// session is the in-memory record of one active room call. It is keyed by
// room id, never persisted, and tracks only who is in the call; the mesh
// topology between peers is entirely the clients' business.
type session struct {
	roomID       int64
	callID       string
	callType     string
	startTime    time.Time
	participants map[int64]*participant
}

func (s *session) callRow() *chat.Call {
	return &chat.Call{
		ID:        s.callID,
		RoomID:    s.roomID,
		Type:      s.callType,
		Status:    chat.CallAnswered,
		StartTime: s.startTime,
	}
}

func (s *session) others(userID int64) []int64 {
	ids := make([]int64, 0, len(s.participants))
	for id := range s.participants {
		if id != userID {
			ids = append(ids, id)
		}
	}
	return ids
}

type userJoinedEvent struct {
	RoomID   int64     `json:"room_id"`
	CallID   string    `json:"call_id"`
	User     Peer      `json:"user"`
	JoinedAt time.Time `json:"joined_at"`
}

type userLeftEvent struct {
	RoomID int64  `json:"room_id"`
	CallID string `json:"call_id"`
	UserID int64  `json:"user_id"`
	Reason string `json:"reason"`
}

// groupOffer handles an offer aimed at a room. With no active session it
// starts one; from a user not yet in the session it joins them; with a peer
// named it additionally relays the offer point-to-point.
func (c *Coordinator) groupOffer(ctx context.Context, caller Peer, req OfferRequest) (*OfferResult, error) {
	member, err := c.store.IsUserInRoom(ctx, caller.ID, req.RoomID)
	if err != nil {
		log.Printf("call: membership check for %d in room %d: %v", caller.ID, req.RoomID, err)
		return nil, event.Internal("membership check failed")
	}
	if !member {
		return nil, event.NotAuthorized("not a member of this room")
	}

	c.mu.Lock()
	sess, ok := c.sessions[req.RoomID]
	if !ok {
		// First offer into the room: create the backing call row and the
		// session with the caller as sole participant. The row is created
		// under the lock so two racing first-offers cannot both start a
		// session for the same room.
		call := &chat.Call{
			CallerID:  caller.ID,
			RoomID:    req.RoomID,
			Type:      req.CallType,
			Status:    chat.CallAnswered,
			StartTime: c.now().UTC(),
		}
		if err := c.store.CreateCall(ctx, call); err != nil {
			c.mu.Unlock()
			log.Printf("call: create group call in room %d: %v", req.RoomID, err)
			return nil, event.Internal("failed to create call")
		}
		sess = &session{
			roomID:       req.RoomID,
			callID:       call.ID,
			callType:     req.CallType,
			startTime:    call.StartTime,
			participants: map[int64]*participant{},
		}
		sess.participants[caller.ID] = &participant{
			UserID: caller.ID, Username: caller.Username,
			Type: req.CallType, JoinedAt: call.StartTime,
		}
		c.sessions[req.RoomID] = sess
		c.mu.Unlock()

		c.announceStarted(ctx, caller, sess, req.SDP)
		return &OfferResult{Call: call, Delivered: true, Group: true}, nil
	}

	joinedOthers := c.ensureParticipantLocked(sess, caller)
	call := sess.callRow()
	c.mu.Unlock()

	c.notifyJoined(sess, caller, joinedOthers)
	if req.PeerID > 0 {
		c.relayTo(req.PeerID, sess.callType, event.New(event.GroupCallOffer, struct {
			CallID string          `json:"call_id"`
			RoomID int64           `json:"room_id"`
			From   Peer            `json:"from"`
			SDP    json.RawMessage `json:"sdp,omitempty"`
		}{sess.callID, sess.roomID, caller, req.SDP}))
	}
	return &OfferResult{Call: call, Delivered: true, Group: true}, nil
}

func (c *Coordinator) groupAnswer(ctx context.Context, answerer Peer, req AnswerRequest) (*chat.Call, error) {
	if req.PeerID <= 0 {
		return nil, event.InvalidPayload("peer_id is required")
	}

	c.mu.Lock()
	sess, ok := c.sessions[req.RoomID]
	if !ok {
		c.mu.Unlock()
		return nil, event.NotFound("no active call in this room")
	}
	joinedOthers := c.ensureParticipantLocked(sess, answerer)
	call := sess.callRow()
	c.mu.Unlock()

	c.notifyJoined(sess, answerer, joinedOthers)
	c.relayTo(req.PeerID, sess.callType, event.New(event.GroupCallAnswer, struct {
		CallID string          `json:"call_id"`
		RoomID int64           `json:"room_id"`
		From   Peer            `json:"from"`
		SDP    json.RawMessage `json:"sdp,omitempty"`
	}{sess.callID, sess.roomID, answerer, req.SDP}))
	return call, nil
}

func (c *Coordinator) groupIceCandidate(sender Peer, req IceRequest) error {
	if req.PeerID <= 0 {
		return event.InvalidPayload("peer_id is required")
	}

	c.mu.Lock()
	sess, ok := c.sessions[req.RoomID]
	if !ok {
		c.mu.Unlock()
		return event.NotFound("no active call in this room")
	}
	callID, callType := sess.callID, sess.callType
	c.mu.Unlock()

	c.relayTo(req.PeerID, callType, event.New(event.GroupCallIceCandidate, struct {
		CallID    string          `json:"call_id"`
		RoomID    int64           `json:"room_id"`
		From      Peer            `json:"from"`
		Candidate json.RawMessage `json:"candidate"`
	}{callID, sess.roomID, sender, req.Candidate}))
	return nil
}

// Leave removes the caller from the room's session and notifies the
// remaining participants. When the last participant leaves, the session ends
// and the backing call row is finalized.
func (c *Coordinator) Leave(ctx context.Context, leaver Peer, roomID int64) error {
	c.mu.Lock()
	sess, ok := c.sessions[roomID]
	if !ok {
		c.mu.Unlock()
		return event.NotFound("no active call in this room")
	}
	if _, in := sess.participants[leaver.ID]; !in {
		c.mu.Unlock()
		return event.NotFound("not in this call")
	}
	delete(sess.participants, leaver.ID)
	remaining := sess.others(0)
	ended := len(sess.participants) == 0
	if ended {
		delete(c.sessions, roomID)
	}
	c.mu.Unlock()

	c.notifyLeft(sess, leaver.ID, ReasonLeft, remaining)
	if ended {
		c.finalize(ctx, sess)
	}
	return nil
}

// groupEnd force-ends the session on behalf of a current participant,
// regardless of how many participants remain.
func (c *Coordinator) groupEnd(ctx context.Context, ender Peer, req EndRequest) (*chat.Call, error) {
	c.mu.Lock()
	sess, ok := c.sessions[req.RoomID]
	if !ok {
		c.mu.Unlock()
		return nil, event.NotFound("no active call in this room")
	}
	if _, in := sess.participants[ender.ID]; !in {
		c.mu.Unlock()
		return nil, event.NotAuthorized("not in this call")
	}
	others := sess.others(ender.ID)
	delete(c.sessions, req.RoomID)
	c.mu.Unlock()

	call := c.finalize(ctx, sess)
	env := event.New(event.GroupCallEnded, struct {
		RoomID   int64  `json:"room_id"`
		CallID   string `json:"call_id"`
		EndedBy  int64  `json:"ended_by"`
		Reason   string `json:"reason,omitempty"`
		Duration int64  `json:"duration"`
	}{sess.roomID, sess.callID, ender.ID, req.Reason, call.Duration})
	for _, id := range others {
		c.relayTo(id, sess.callType, env)
	}
	return call, nil
}

// HandleUserOffline is the registry's offline hook: a user whose last
// connection dropped leaves every session they were in with
// reason "disconnected".
func (c *Coordinator) HandleUserOffline(userID int64) {
	ctx := context.Background()

	c.mu.Lock()
	type departure struct {
		sess      *session
		remaining []int64
		ended     bool
	}
	var departures []departure
	for roomID, sess := range c.sessions {
		if _, in := sess.participants[userID]; !in {
			continue
		}
		delete(sess.participants, userID)
		d := departure{sess: sess, remaining: sess.others(0)}
		if len(sess.participants) == 0 {
			d.ended = true
			delete(c.sessions, roomID)
		}
		departures = append(departures, d)
	}
	c.mu.Unlock()

	for _, d := range departures {
		c.notifyLeft(d.sess, userID, ReasonDisconnected, d.remaining)
		if d.ended {
			c.finalize(ctx, d.sess)
		}
	}
}

// ActiveSession reports the current session state for a room, if any.
func (c *Coordinator) ActiveSession(roomID int64) (callID string, participants []int64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[roomID]
	if !ok {
		return "", nil, false
	}
	return sess.callID, sess.others(0), true
}

// announceStarted broadcasts group_call_started to every other room member
// and rings the reachable ones with call_incoming.
func (c *Coordinator) announceStarted(ctx context.Context, starter Peer, sess *session, sdp json.RawMessage) {
	members, err := c.store.GetRoomMembers(ctx, sess.roomID)
	if err != nil {
		log.Printf("call: list members of room %d: %v", sess.roomID, err)
		return
	}
	call := sess.callRow()
	started := event.New(event.GroupCallStarted, struct {
		CallID    string `json:"call_id"`
		RoomID    int64  `json:"room_id"`
		CallType  string `json:"call_type"`
		StartedBy Peer   `json:"started_by"`
	}{sess.callID, sess.roomID, sess.callType, starter})
	incoming := event.New(event.CallIncoming, struct {
		Call   *chat.Call      `json:"call"`
		Caller Peer            `json:"caller"`
		SDP    json.RawMessage `json:"sdp,omitempty"`
	}{call, starter, sdp})

	for _, m := range members {
		if m.ID == starter.ID {
			continue
		}
		c.relayTo(m.ID, sess.callType, started)
		c.relayTo(m.ID, sess.callType, incoming)
	}
}

// ensureParticipantLocked adds p to the session if absent and returns the
// ids to notify with group_call_user_joined, or nil if p was already in.
// Caller holds c.mu.
func (c *Coordinator) ensureParticipantLocked(sess *session, p Peer) []int64 {
	if _, in := sess.participants[p.ID]; in {
		return nil
	}
	sess.participants[p.ID] = &participant{
		UserID: p.ID, Username: p.Username,
		Type: sess.callType, JoinedAt: c.now().UTC(),
	}
	return sess.others(p.ID)
}

func (c *Coordinator) notifyJoined(sess *session, joiner Peer, others []int64) {
	if others == nil {
		return
	}
	env := event.New(event.GroupCallUserJoined, userJoinedEvent{
		RoomID: sess.roomID, CallID: sess.callID,
		User: joiner, JoinedAt: c.now().UTC(),
	})
	for _, id := range others {
		c.relayTo(id, sess.callType, env)
	}
}

func (c *Coordinator) notifyLeft(sess *session, userID int64, reason string, remaining []int64) {
	env := event.New(event.GroupCallUserLeft, userLeftEvent{
		RoomID: sess.roomID, CallID: sess.callID,
		UserID: userID, Reason: reason,
	})
	for _, id := range remaining {
		c.relayTo(id, sess.callType, env)
	}
}

// finalize marks the backing call row ended with its computed duration.
func (c *Coordinator) finalize(ctx context.Context, sess *session) *chat.Call {
	end := c.now().UTC()
	duration := int64(0)
	if !sess.startTime.IsZero() {
		duration = int64(end.Sub(sess.startTime).Seconds())
	}
	if err := c.store.UpdateCallStatus(ctx, sess.callID, chat.CallEnded, &end, duration); err != nil {
		log.Printf("call: finalize call %s: %v", sess.callID, err)
	}
	call := sess.callRow()
	call.Status = chat.CallEnded
	call.EndTime = &end
	call.Duration = duration
	return call
}
