package ws

import (
	"context"
	"encoding/json"

	"chatrelay/internal/call"
	"chatrelay/internal/chat"
	"chatrelay/internal/event"
	"chatrelay/internal/relay"
	"chatrelay/internal/registry"
)

// Inbound frame types (client -> server commands). Outbound event names live
// in the event package.
const (
	frameSendMessage = "send_message"
	frameTyping      = "typing"
	frameMarkRead    = "mark_read"
	frameCallOffer   = "call_offer"
	frameCallAnswer  = "call_answer"
	frameCallIce     = "call_ice_candidate"
	frameCallEnd     = "call_end"
	frameGroupLeave  = "group_call_leave"
)

type sendMessageRequest struct {
	RoomID         int64  `json:"room_id,omitempty"`
	DirectChatID   int64  `json:"direct_chat_id,omitempty"`
	Content        string `json:"content"`
	Classification string `json:"classification,omitempty"`
}

type typingRequest struct {
	RoomID       int64 `json:"room_id,omitempty"`
	DirectChatID int64 `json:"direct_chat_id,omitempty"`
	IsTyping     bool  `json:"is_typing"`
}

type markReadRequest struct {
	RoomID       int64 `json:"room_id,omitempty"`
	DirectChatID int64 `json:"direct_chat_id,omitempty"`
}

type leaveRequest struct {
	RoomID int64 `json:"room_id"`
}

// Router dispatches inbound frames to the feature that owns them. Every
// failure of the client's own action comes back synchronously as an error
// event; recipients never see negative acknowledgements.
type Router struct {
	reg   *registry.Registry
	relay *relay.Relay
	calls *call.Coordinator
}

func NewRouter(reg *registry.Registry, rl *relay.Relay, calls *call.Coordinator) *Router {
	return &Router{reg: reg, relay: rl, calls: calls}
}

func (rt *Router) Dispatch(ctx context.Context, c *Client, env event.Envelope) {
	switch env.Type {
	case event.Ping:
		rt.reg.Heartbeat(c.UserID, c.Class)
		_ = c.Send(event.Envelope{Type: event.Pong})

	case frameSendMessage:
		var req sendMessageRequest
		if !decode(c, env.Payload, &req) {
			return
		}
		target := chat.Target{RoomID: req.RoomID, DirectChatID: req.DirectChatID}
		msg, err := rt.relay.Send(ctx, rt.sender(c), target, req.Content, req.Classification)
		if err != nil {
			c.sendError(event.AsErr(err))
			return
		}
		_ = c.Send(event.New(event.MessageSent, msg))

	case frameTyping:
		var req typingRequest
		if !decode(c, env.Payload, &req) {
			return
		}
		target := chat.Target{RoomID: req.RoomID, DirectChatID: req.DirectChatID}
		if err := rt.relay.Typing(ctx, rt.sender(c), target, req.IsTyping); err != nil {
			c.sendError(event.AsErr(err))
		}

	case frameMarkRead:
		var req markReadRequest
		if !decode(c, env.Payload, &req) {
			return
		}
		target := chat.Target{RoomID: req.RoomID, DirectChatID: req.DirectChatID}
		if err := rt.relay.MarkRead(ctx, c.UserID, target); err != nil {
			c.sendError(event.AsErr(err))
		}

	case frameCallOffer:
		var req call.OfferRequest
		if !decode(c, env.Payload, &req) {
			return
		}
		res, err := rt.calls.Offer(ctx, rt.peer(c), req)
		if err != nil {
			c.sendError(event.AsErr(err))
			return
		}
		if !res.Delivered {
			_ = c.Send(event.New(event.CallFailed, struct {
				CallID string `json:"call_id"`
				Reason string `json:"reason"`
			}{res.Call.ID, "unreachable"}))
			return
		}
		_ = c.Send(event.New(event.CallInitiated, res.Call))

	case frameCallAnswer:
		var req call.AnswerRequest
		if !decode(c, env.Payload, &req) {
			return
		}
		answered, err := rt.calls.Answer(ctx, rt.peer(c), req)
		if err != nil {
			c.sendError(event.AsErr(err))
			return
		}
		_ = c.Send(event.New(event.CallAnswered, answered))

	case frameCallIce:
		var req call.IceRequest
		if !decode(c, env.Payload, &req) {
			return
		}
		if err := rt.calls.IceCandidate(ctx, rt.peer(c), req); err != nil {
			c.sendError(event.AsErr(err))
		}

	case frameCallEnd:
		var req call.EndRequest
		if !decode(c, env.Payload, &req) {
			return
		}
		ended, err := rt.calls.End(ctx, rt.peer(c), req)
		if err != nil {
			c.sendError(event.AsErr(err))
			return
		}
		_ = c.Send(event.New(event.CallEnded, ended))

	case frameGroupLeave:
		var req leaveRequest
		if !decode(c, env.Payload, &req) {
			return
		}
		if err := rt.calls.Leave(ctx, rt.peer(c), req.RoomID); err != nil {
			c.sendError(event.AsErr(err))
		}

	default:
		c.sendError(event.InvalidPayload("unknown frame type: " + env.Type))
	}
}

func (rt *Router) sender(c *Client) relay.Sender {
	return relay.Sender{ID: c.UserID, Username: c.Username, Online: true}
}

func (rt *Router) peer(c *Client) call.Peer {
	return call.Peer{ID: c.UserID, Username: c.Username}
}

func decode(c *Client, raw json.RawMessage, v any) bool {
	if len(raw) == 0 {
		c.sendError(event.InvalidPayload("missing payload"))
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		c.sendError(event.InvalidPayload("malformed payload"))
		return false
	}
	return true
}
