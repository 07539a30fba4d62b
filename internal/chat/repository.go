package chat

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"chatrelay/internal/lifecycle"
)

// Store is the durable side of the chat core: rooms, direct chats, messages
// and call rows. Everything in-memory (connections, group sessions) lives
// elsewhere and never touches this.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) GetRoomMembers(ctx context.Context, roomID int64) ([]Member, error) {
	q := `
		SELECT u.id, u.username
		FROM room_members rm
		JOIN users u ON u.id = rm.user_id
		WHERE rm.room_id = $1
		ORDER BY u.id
	`
	rows, err := s.db.QueryContext(ctx, q, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.Username); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *Store) IsUserInRoom(ctx context.Context, userID, roomID int64) (bool, error) {
	var exists bool
	q := `SELECT EXISTS (SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)`
	err := s.db.QueryRowContext(ctx, q, roomID, userID).Scan(&exists)
	return exists, err
}

func (s *Store) CreateRoom(ctx context.Context, name string, memberIDs []int64) (*Room, error) {
	room := &Room{Name: name}
	q := `INSERT INTO rooms (name) VALUES ($1) RETURNING id, created_at`
	if err := s.db.QueryRowContext(ctx, q, name).Scan(&room.ID, &room.CreatedAt); err != nil {
		return nil, err
	}
	for _, id := range memberIDs {
		if err := s.AddRoomMember(ctx, room.ID, id); err != nil {
			return nil, err
		}
	}
	return room, nil
}

func (s *Store) AddRoomMember(ctx context.Context, roomID, userID int64) error {
	q := `INSERT INTO room_members (room_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	_, err := s.db.ExecContext(ctx, q, roomID, userID)
	return err
}

func (s *Store) GetDirectChat(ctx context.Context, id int64) (*DirectChat, error) {
	dc := &DirectChat{}
	q := `SELECT id, user1_id, user2_id FROM direct_chats WHERE id = $1`
	err := s.db.QueryRowContext(ctx, q, id).Scan(&dc.ID, &dc.User1ID, &dc.User2ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return dc, nil
}

func (s *Store) GetDirectChatByUsers(ctx context.Context, a, b int64) (*DirectChat, error) {
	dc := &DirectChat{}
	q := `
		SELECT id, user1_id, user2_id FROM direct_chats
		WHERE (user1_id = $1 AND user2_id = $2) OR (user1_id = $2 AND user2_id = $1)
	`
	err := s.db.QueryRowContext(ctx, q, a, b).Scan(&dc.ID, &dc.User1ID, &dc.User2ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return dc, nil
}

// GetOrCreateDirectChat finds the 1:1 chat between two users, creating it on
// first contact.
func (s *Store) GetOrCreateDirectChat(ctx context.Context, a, b int64) (*DirectChat, error) {
	if dc, err := s.GetDirectChatByUsers(ctx, a, b); err != nil || dc != nil {
		return dc, err
	}
	dc := &DirectChat{User1ID: a, User2ID: b}
	q := `INSERT INTO direct_chats (user1_id, user2_id) VALUES ($1, $2) RETURNING id`
	if err := s.db.QueryRowContext(ctx, q, a, b).Scan(&dc.ID); err != nil {
		return nil, err
	}
	return dc, nil
}

// CreateMessage persists a message, stamping created_at and an expires_at
// derived from the classification. The stamp is computed once here and never
// recomputed.
func (s *Store) CreateMessage(ctx context.Context, senderID int64, target Target, content, classification string) (*Message, error) {
	if classification == "" {
		classification = ClassificationRoutine
	}
	now := s.now().UTC()
	msg := &Message{
		SenderID:       senderID,
		RoomID:         target.RoomID,
		DirectChatID:   target.DirectChatID,
		Content:        content,
		Classification: classification,
		CreatedAt:      now,
		ExpiresAt:      lifecycle.ExpirationDate(classification, now),
	}
	q := `
		INSERT INTO messages (sender_id, room_id, direct_chat_id, content, classification, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, q,
		senderID, nullID(target.RoomID), nullID(target.DirectChatID),
		content, classification, msg.CreatedAt, msg.ExpiresAt,
	).Scan(&msg.ID)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GetHistory returns the newest messages for a target, oldest first.
// Soft-deleted messages are invisible here.
func (s *Store) GetHistory(ctx context.Context, target Target, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
		SELECT id, sender_id, COALESCE(room_id, 0), COALESCE(direct_chat_id, 0),
		       content, classification, created_at, expires_at, is_read
		FROM messages
		WHERE NOT is_deleted
		  AND (($1::bigint > 0 AND room_id = $1) OR ($2::bigint > 0 AND direct_chat_id = $2))
		ORDER BY created_at DESC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, q, target.RoomID, target.DirectChatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RoomID, &m.DirectChatID,
			&m.Content, &m.Classification, &m.CreatedAt, &m.ExpiresAt, &m.IsRead); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse into chronological order for the client.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MarkMessagesAsRead flags everything in the target chat not sent by userID.
func (s *Store) MarkMessagesAsRead(ctx context.Context, target Target, userID int64) error {
	q := `
		UPDATE messages SET is_read = TRUE
		WHERE NOT is_read AND sender_id <> $3
		  AND (($1::bigint > 0 AND room_id = $1) OR ($2::bigint > 0 AND direct_chat_id = $2))
	`
	_, err := s.db.ExecContext(ctx, q, target.RoomID, target.DirectChatID, userID)
	return err
}

// CreateCall inserts a call row, assigning its id and start time.
func (s *Store) CreateCall(ctx context.Context, c *Call) error {
	c.ID = uuid.NewString()
	if c.StartTime.IsZero() {
		c.StartTime = s.now().UTC()
	}
	q := `
		INSERT INTO calls (id, caller_id, receiver_id, room_id, call_type, status, start_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, q,
		c.ID, c.CallerID, nullID(c.ReceiverID), nullID(c.RoomID),
		c.Type, c.Status, c.StartTime,
	)
	return err
}

func (s *Store) GetCall(ctx context.Context, id string) (*Call, error) {
	c := &Call{}
	var endTime sql.NullTime
	var duration sql.NullInt64
	q := `
		SELECT id, caller_id, COALESCE(receiver_id, 0), COALESCE(room_id, 0),
		       call_type, status, start_time, end_time, duration_seconds
		FROM calls WHERE id = $1
	`
	err := s.db.QueryRowContext(ctx, q, id).Scan(&c.ID, &c.CallerID, &c.ReceiverID,
		&c.RoomID, &c.Type, &c.Status, &c.StartTime, &endTime, &duration)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if endTime.Valid {
		c.EndTime = &endTime.Time
	}
	c.Duration = duration.Int64
	return c, nil
}

// UpdateCallStatus transitions a call row. endTime and duration are only
// written for terminal statuses; pass nil/0 otherwise.
func (s *Store) UpdateCallStatus(ctx context.Context, id, status string, endTime *time.Time, durationSeconds int64) error {
	q := `
		UPDATE calls SET status = $2,
		       end_time = COALESCE($3, end_time),
		       duration_seconds = CASE WHEN $3 IS NULL THEN duration_seconds ELSE $4 END
		WHERE id = $1
	`
	var et sql.NullTime
	if endTime != nil {
		et = sql.NullTime{Time: *endTime, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, q, id, status, et, durationSeconds)
	return err
}

// SoftDeleteExpired implements the hourly lifecycle sweep.
func (s *Store) SoftDeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	q := `UPDATE messages SET is_deleted = TRUE WHERE NOT is_deleted AND expires_at < $1`
	res, err := s.db.ExecContext(ctx, q, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PurgeDeleted implements the daily hard-delete sweep.
func (s *Store) PurgeDeleted(ctx context.Context, cutoff time.Time) (int64, error) {
	q := `DELETE FROM messages WHERE is_deleted AND expires_at < $1`
	res, err := s.db.ExecContext(ctx, q, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id > 0}
}
