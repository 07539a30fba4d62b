package relay

import (
	"context"
	"log"

	"chatrelay/internal/chat"
	"chatrelay/internal/event"
	"chatrelay/internal/registry"
)

// Store is the slice of the chat store the relay needs.
type Store interface {
	IsUserInRoom(ctx context.Context, userID, roomID int64) (bool, error)
	GetRoomMembers(ctx context.Context, roomID int64) ([]chat.Member, error)
	GetDirectChat(ctx context.Context, id int64) (*chat.DirectChat, error)
	CreateMessage(ctx context.Context, senderID int64, target chat.Target, content, classification string) (*chat.Message, error)
	MarkMessagesAsRead(ctx context.Context, target chat.Target, userID int64) error
}

// Finder resolves a user to their best live connection.
type Finder interface {
	FindBest(userID int64, preferred registry.ChannelClass) (registry.Conn, bool)
}

// Sender is the identity attached to the originating connection.
type Sender struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// MessageEvent is the new_message payload: the persisted message plus minimal
// sender identity so clients can render without a user lookup.
type MessageEvent struct {
	Message *chat.Message `json:"message"`
	Sender  Sender        `json:"sender"`
}

// TypingEvent is the ephemeral user_typing payload.
type TypingEvent struct {
	Sender   Sender      `json:"sender"`
	Target   chat.Target `json:"target"`
	IsTyping bool        `json:"is_typing"`
}

// Relay persists messages and fans them out to whoever is live. Delivery is
// best-effort: a recipient with no live connection sees the message on their
// next fetch, which is the durability backstop.
type Relay struct {
	store Store
	reg   Finder
}

func New(store Store, reg Finder) *Relay {
	return &Relay{store: store, reg: reg}
}

// Send validates, persists, and fans out a message. The returned message is
// acknowledged to the sender by the transport layer as message_sent. A
// persistence failure aborts the whole send; a delivery failure to one
// recipient never affects the others and is never surfaced to the sender.
func (r *Relay) Send(ctx context.Context, sender Sender, target chat.Target, content, classification string) (*chat.Message, error) {
	if content == "" {
		return nil, event.InvalidPayload("content is required")
	}
	recipients, err := r.resolveRecipients(ctx, sender.ID, target)
	if err != nil {
		return nil, err
	}

	msg, err := r.store.CreateMessage(ctx, sender.ID, target, content, classification)
	if err != nil {
		log.Printf("relay: persist message from %d: %v", sender.ID, err)
		return nil, event.Internal("failed to persist message")
	}

	sender.Online = true
	env := event.New(event.NewMessage, MessageEvent{Message: msg, Sender: sender})
	for _, userID := range recipients {
		if conn, ok := r.reg.FindBest(userID, registry.ClassChat); ok {
			_ = conn.Send(env)
		}
	}
	return msg, nil
}

// Typing forwards a typing indicator to the same recipient set as Send, with
// no persistence and no acknowledgement.
func (r *Relay) Typing(ctx context.Context, sender Sender, target chat.Target, isTyping bool) error {
	recipients, err := r.resolveRecipients(ctx, sender.ID, target)
	if err != nil {
		return err
	}
	sender.Online = true
	env := event.New(event.UserTyping, TypingEvent{Sender: sender, Target: target, IsTyping: isTyping})
	for _, userID := range recipients {
		if conn, ok := r.reg.FindBest(userID, registry.ClassChat); ok {
			_ = conn.Send(env)
		}
	}
	return nil
}

// MarkRead flags the target chat's messages as read for userID.
func (r *Relay) MarkRead(ctx context.Context, userID int64, target chat.Target) error {
	if _, err := r.resolveRecipients(ctx, userID, target); err != nil {
		return err
	}
	if err := r.store.MarkMessagesAsRead(ctx, target, userID); err != nil {
		log.Printf("relay: mark read for %d: %v", userID, err)
		return event.Internal("failed to mark messages read")
	}
	return nil
}

// resolveRecipients authorizes the sender against the target and returns
// everyone else who should see the event: room members minus the sender, or
// the direct chat's other participant.
func (r *Relay) resolveRecipients(ctx context.Context, senderID int64, target chat.Target) ([]int64, error) {
	if !target.Valid() {
		return nil, event.InvalidPayload("exactly one of room_id or direct_chat_id is required")
	}

	if target.RoomID > 0 {
		member, err := r.store.IsUserInRoom(ctx, senderID, target.RoomID)
		if err != nil {
			log.Printf("relay: membership check for %d in room %d: %v", senderID, target.RoomID, err)
			return nil, event.Internal("membership check failed")
		}
		if !member {
			return nil, event.NotAuthorized("not a member of this room")
		}
		members, err := r.store.GetRoomMembers(ctx, target.RoomID)
		if err != nil {
			log.Printf("relay: list members of room %d: %v", target.RoomID, err)
			return nil, event.Internal("member lookup failed")
		}
		recipients := make([]int64, 0, len(members)-1)
		for _, m := range members {
			if m.ID != senderID {
				recipients = append(recipients, m.ID)
			}
		}
		return recipients, nil
	}

	dc, err := r.store.GetDirectChat(ctx, target.DirectChatID)
	if err != nil {
		log.Printf("relay: load direct chat %d: %v", target.DirectChatID, err)
		return nil, event.Internal("chat lookup failed")
	}
	if dc == nil {
		return nil, event.NotFound("direct chat not found")
	}
	other := dc.Other(senderID)
	if other == 0 {
		return nil, event.NotAuthorized("not a participant of this chat")
	}
	return []int64{other}, nil
}
