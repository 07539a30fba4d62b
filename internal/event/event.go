package event

import "encoding/json"

// Event names carried as the "type" field of every frame, in both directions.
const (
	AuthSuccess = "auth_success"
	OnlineUsers = "online_users"
	NewMessage  = "new_message"
	MessageSent = "message_sent"
	UserTyping  = "user_typing"

	CallIncoming     = "call_incoming"
	CallInitiated    = "call_initiated"
	CallAnswered     = "call_answered"
	CallIceCandidate = "call_ice_candidate"
	CallEnded        = "call_ended"
	CallFailed       = "call_failed"

	GroupCallStarted      = "group_call_started"
	GroupCallOffer        = "group_call_offer"
	GroupCallAnswer       = "group_call_answer"
	GroupCallIceCandidate = "group_call_ice_candidate"
	GroupCallUserJoined   = "group_call_user_joined"
	GroupCallUserLeft     = "group_call_user_left"
	GroupCallEnded        = "group_call_ended"

	Ping  = "ping"
	Pong  = "pong"
	Error = "error"
)

// Envelope is the wire frame. Payload stays raw until the handler for the
// type decodes it.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New builds an envelope, marshaling v as the payload. Marshal errors are
// swallowed: every payload type in this codebase is a plain struct.
func New(typ string, v any) Envelope {
	raw, _ := json.Marshal(v)
	return Envelope{Type: typ, Payload: raw}
}
