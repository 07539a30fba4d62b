package chat

import (
	"time"

	"chatrelay/internal/lifecycle"
)

// Classification values accepted on message send. The retention policy lives
// in the lifecycle package; these are re-exported so callers of the chat API
// don't need to import it.
const (
	ClassificationRoutine    = lifecycle.ClassificationRoutine
	ClassificationSensitive  = lifecycle.ClassificationSensitive
	ClassificationClassified = lifecycle.ClassificationClassified
)

// Target names the destination of a message: exactly one of RoomID or
// DirectChatID is set.
type Target struct {
	RoomID       int64 `json:"room_id,omitempty"`
	DirectChatID int64 `json:"direct_chat_id,omitempty"`
}

func (t Target) Valid() bool {
	return (t.RoomID > 0) != (t.DirectChatID > 0)
}

type Message struct {
	ID             int64     `json:"id"`
	SenderID       int64     `json:"sender_id"`
	RoomID         int64     `json:"room_id,omitempty"`
	DirectChatID   int64     `json:"direct_chat_id,omitempty"`
	Content        string    `json:"content"`
	Classification string    `json:"classification"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	IsDeleted      bool      `json:"-"`
	IsRead         bool      `json:"is_read"`
}

type Room struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Member is the slim user view the relay needs for fan-out.
type Member struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type DirectChat struct {
	ID      int64 `json:"id"`
	User1ID int64 `json:"user1_id"`
	User2ID int64 `json:"user2_id"`
}

// Other returns the participant that isn't userID, or 0 if userID is not a
// participant at all.
func (d *DirectChat) Other(userID int64) int64 {
	switch userID {
	case d.User1ID:
		return d.User2ID
	case d.User2ID:
		return d.User1ID
	}
	return 0
}

// Call statuses. A 1:1 call walks pending -> answered -> ended, with a side
// exit pending -> missed when the callee has no live connection. Room calls
// are created already answered (they ring via the group session, not via a
// pending row).
const (
	CallPending  = "pending"
	CallAnswered = "answered"
	CallEnded    = "ended"
	CallMissed   = "missed"
)

const (
	CallTypeAudio = "audio"
	CallTypeVideo = "video"
)

type Call struct {
	ID         string     `json:"call_id"`
	CallerID   int64      `json:"caller_id"`
	ReceiverID int64      `json:"receiver_id,omitempty"`
	RoomID     int64      `json:"room_id,omitempty"`
	Type       string     `json:"call_type"`
	Status     string     `json:"status"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	// Duration in seconds, set when the call reaches a terminal status.
	Duration int64 `json:"duration,omitempty"`
}
