package call

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"chatrelay/internal/chat"
	"chatrelay/internal/event"
	"chatrelay/internal/registry"
)

// Store is the slice of the chat store the coordinator needs.
type Store interface {
	CreateCall(ctx context.Context, c *chat.Call) error
	GetCall(ctx context.Context, id string) (*chat.Call, error)
	UpdateCallStatus(ctx context.Context, id, status string, endTime *time.Time, durationSeconds int64) error
	GetRoomMembers(ctx context.Context, roomID int64) ([]chat.Member, error)
	IsUserInRoom(ctx context.Context, userID, roomID int64) (bool, error)
}

// Finder resolves a user to their best live connection.
type Finder interface {
	FindBest(userID int64, preferred registry.ChannelClass) (registry.Conn, bool)
}

// Peer identifies a call participant in signaling payloads.
type Peer struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Requests decoded from inbound frames. SDP and ICE payloads are opaque;
// this layer only relays them.
type OfferRequest struct {
	TargetID int64           `json:"target_id,omitempty"`
	RoomID   int64           `json:"room_id,omitempty"`
	PeerID   int64           `json:"peer_id,omitempty"`
	CallType string          `json:"call_type"`
	SDP      json.RawMessage `json:"sdp,omitempty"`
}

type AnswerRequest struct {
	CallID string          `json:"call_id"`
	RoomID int64           `json:"room_id,omitempty"`
	PeerID int64           `json:"peer_id,omitempty"`
	SDP    json.RawMessage `json:"sdp,omitempty"`
}

type IceRequest struct {
	CallID    string          `json:"call_id,omitempty"`
	TargetID  int64           `json:"target_id,omitempty"`
	RoomID    int64           `json:"room_id,omitempty"`
	PeerID    int64           `json:"peer_id,omitempty"`
	Candidate json.RawMessage `json:"candidate"`
}

type EndRequest struct {
	CallID string `json:"call_id,omitempty"`
	RoomID int64  `json:"room_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// OfferResult tells the transport layer what to acknowledge: call_initiated
// when the offer went out, call_failed when the callee was unreachable.
type OfferResult struct {
	Call      *chat.Call `json:"call"`
	Delivered bool       `json:"delivered"`
	Group     bool       `json:"group"`
}

// Coordinator relays WebRTC-style signaling and owns the call state machines:
// pending -> answered -> ended for 1:1 calls, with a pending -> missed side
// exit, plus the in-memory group session table (session.go).
type Coordinator struct {
	mu       sync.Mutex
	sessions map[int64]*session

	store Store
	reg   Finder
	now   func() time.Time
}

func New(store Store, reg Finder) *Coordinator {
	return &Coordinator{
		sessions: make(map[int64]*session),
		store:    store,
		reg:      reg,
		now:      time.Now,
	}
}

// Offer starts a call. Exactly one of TargetID (1:1) or RoomID (group) must
// be set.
func (c *Coordinator) Offer(ctx context.Context, caller Peer, req OfferRequest) (*OfferResult, error) {
	if req.CallType != chat.CallTypeAudio && req.CallType != chat.CallTypeVideo {
		return nil, event.InvalidPayload("call_type must be audio or video")
	}
	if (req.TargetID > 0) == (req.RoomID > 0) {
		return nil, event.InvalidPayload("exactly one of target_id or room_id is required")
	}
	if req.RoomID > 0 {
		return c.groupOffer(ctx, caller, req)
	}
	return c.directOffer(ctx, caller, req)
}

func (c *Coordinator) directOffer(ctx context.Context, caller Peer, req OfferRequest) (*OfferResult, error) {
	call := &chat.Call{
		CallerID:   caller.ID,
		ReceiverID: req.TargetID,
		Type:       req.CallType,
		Status:     chat.CallPending,
	}
	if err := c.store.CreateCall(ctx, call); err != nil {
		log.Printf("call: create call from %d to %d: %v", caller.ID, req.TargetID, err)
		return nil, event.Internal("failed to create call")
	}

	conn, ok := c.reg.FindBest(req.TargetID, classFor(req.CallType))
	if !ok {
		// Callee unreachable: the call never rang, so it goes straight to
		// missed with zero duration.
		end := c.now().UTC()
		call.Status = chat.CallMissed
		call.EndTime = &end
		call.Duration = 0
		if err := c.store.UpdateCallStatus(ctx, call.ID, chat.CallMissed, &end, 0); err != nil {
			log.Printf("call: mark call %s missed: %v", call.ID, err)
		}
		return &OfferResult{Call: call, Delivered: false}, nil
	}

	_ = conn.Send(event.New(event.CallIncoming, struct {
		Call   *chat.Call      `json:"call"`
		Caller Peer            `json:"caller"`
		SDP    json.RawMessage `json:"sdp,omitempty"`
	}{call, caller, req.SDP}))
	return &OfferResult{Call: call, Delivered: true}, nil
}

// Answer accepts a pending 1:1 call, or doubles as a join/relay inside a
// group session when RoomID is set.
func (c *Coordinator) Answer(ctx context.Context, answerer Peer, req AnswerRequest) (*chat.Call, error) {
	if req.RoomID > 0 {
		return c.groupAnswer(ctx, answerer, req)
	}
	if req.CallID == "" {
		return nil, event.InvalidPayload("call_id is required")
	}

	call, err := c.store.GetCall(ctx, req.CallID)
	if err != nil {
		log.Printf("call: load call %s: %v", req.CallID, err)
		return nil, event.Internal("call lookup failed")
	}
	if call == nil {
		return nil, event.NotFound("call not found")
	}
	if call.Status != chat.CallPending {
		return nil, event.InvalidPayload("call is not pending")
	}
	if call.ReceiverID != answerer.ID {
		return nil, event.NotAuthorized("not the callee of this call")
	}

	if err := c.store.UpdateCallStatus(ctx, call.ID, chat.CallAnswered, nil, 0); err != nil {
		log.Printf("call: mark call %s answered: %v", call.ID, err)
		return nil, event.Internal("failed to update call")
	}
	call.Status = chat.CallAnswered

	c.relayTo(call.CallerID, call.Type, event.New(event.CallAnswered, struct {
		CallID   string          `json:"call_id"`
		Answerer Peer            `json:"answerer"`
		SDP      json.RawMessage `json:"sdp,omitempty"`
	}{call.ID, answerer, req.SDP}))
	return call, nil
}

// IceCandidate is a pure relay; no state changes.
func (c *Coordinator) IceCandidate(ctx context.Context, sender Peer, req IceRequest) error {
	if req.RoomID > 0 {
		return c.groupIceCandidate(sender, req)
	}
	if req.TargetID <= 0 {
		return event.InvalidPayload("target_id is required")
	}
	c.relayTo(req.TargetID, "", event.New(event.CallIceCandidate, struct {
		CallID    string          `json:"call_id,omitempty"`
		From      Peer            `json:"from"`
		Candidate json.RawMessage `json:"candidate"`
	}{req.CallID, sender, req.Candidate}))
	return nil
}

// End terminates a 1:1 call, or force-ends a group session when RoomID is
// set. Any party of the call may end it.
func (c *Coordinator) End(ctx context.Context, ender Peer, req EndRequest) (*chat.Call, error) {
	if req.RoomID > 0 {
		return c.groupEnd(ctx, ender, req)
	}
	if req.CallID == "" {
		return nil, event.InvalidPayload("call_id is required")
	}

	call, err := c.store.GetCall(ctx, req.CallID)
	if err != nil {
		log.Printf("call: load call %s: %v", req.CallID, err)
		return nil, event.Internal("call lookup failed")
	}
	if call == nil {
		return nil, event.NotFound("call not found")
	}
	if call.Status == chat.CallEnded {
		return nil, event.InvalidPayload("call already ended")
	}
	if ender.ID != call.CallerID && ender.ID != call.ReceiverID {
		return nil, event.NotAuthorized("not a party of this call")
	}

	end := c.now().UTC()
	duration := int64(0)
	if !call.StartTime.IsZero() {
		duration = int64(end.Sub(call.StartTime).Seconds())
	}
	if err := c.store.UpdateCallStatus(ctx, call.ID, chat.CallEnded, &end, duration); err != nil {
		log.Printf("call: mark call %s ended: %v", call.ID, err)
		return nil, event.Internal("failed to update call")
	}
	call.Status = chat.CallEnded
	call.EndTime = &end
	call.Duration = duration

	other := call.CallerID
	if ender.ID == call.CallerID {
		other = call.ReceiverID
	}
	if other > 0 {
		c.relayTo(other, call.Type, event.New(event.CallEnded, struct {
			CallID   string `json:"call_id"`
			EndedBy  int64  `json:"ended_by"`
			Reason   string `json:"reason,omitempty"`
			Duration int64  `json:"duration"`
		}{call.ID, ender.ID, req.Reason, duration}))
	}
	return call, nil
}

// relayTo delivers a signaling frame to userID's best connection, preferring
// the channel class matching the call's media type. Frames to unreachable
// users are dropped; signaling has no receipt requirement.
func (c *Coordinator) relayTo(userID int64, callType string, env event.Envelope) {
	if conn, ok := c.reg.FindBest(userID, classFor(callType)); ok {
		_ = conn.Send(env)
	}
}

// classFor prefers the specialized channel matching the media type; the
// registry falls back to the other specialized class, then chat.
func classFor(callType string) registry.ChannelClass {
	switch callType {
	case chat.CallTypeAudio:
		return registry.ClassVoice
	case chat.CallTypeVideo:
		return registry.ClassVideo
	}
	return registry.ClassChat
}
