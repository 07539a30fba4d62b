package chat

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"chatrelay/internal/middleware"
)

// Handler serves the REST side of chat: starting conversations, loading
// history, creating rooms. Real-time traffic goes over the websocket layer.
type Handler struct {
	store *Store
}

func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// StartConversation finds or creates the 1:1 chat between the caller and
// the requested user.
func (h *Handler) StartConversation(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := middleware.Identity(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		UserID int64 `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID <= 0 {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if req.UserID == userID {
		http.Error(w, "cannot start a chat with yourself", http.StatusBadRequest)
		return
	}

	dc, err := h.store.GetOrCreateDirectChat(r.Context(), userID, req.UserID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(dc)
}

// CreateRoom creates a room with the caller plus the listed members.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := middleware.Identity(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		Name      string  `json:"name"`
		MemberIDs []int64 `json:"member_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	room, err := h.store.CreateRoom(r.Context(), req.Name, append(req.MemberIDs, userID))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(room)
}

// GetChatHistory loads recent messages for a room or direct chat and marks
// them read for the caller. This fetch is the durability backstop for
// anything dropped while the caller was offline.
func (h *Handler) GetChatHistory(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := middleware.Identity(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	target := Target{
		RoomID:       queryID(r, "room_id"),
		DirectChatID: queryID(r, "chat_id"),
	}
	if !target.Valid() {
		http.Error(w, "exactly one of room_id or chat_id is required", http.StatusBadRequest)
		return
	}

	if target.RoomID > 0 {
		member, err := h.store.IsUserInRoom(r.Context(), userID, target.RoomID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !member {
			http.Error(w, "not a member of this room", http.StatusForbidden)
			return
		}
	} else {
		dc, err := h.store.GetDirectChat(r.Context(), target.DirectChatID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if dc == nil || dc.Other(userID) == 0 {
			http.Error(w, "not a participant of this chat", http.StatusForbidden)
			return
		}
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	msgs, err := h.store.GetHistory(r.Context(), target, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	// History still loads if the read-flag update fails.
	if err := h.store.MarkMessagesAsRead(r.Context(), target, userID); err != nil {
		log.Printf("chat: mark read for %d: %v", userID, err)
	}
	json.NewEncoder(w).Encode(msgs)
}

func queryID(r *http.Request, key string) int64 {
	id, _ := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	return id
}
