package ws

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"chatrelay/internal/event"
	"chatrelay/internal/middleware"
	"chatrelay/internal/registry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for now (Dev mode)
	},
}

type Handler struct {
	reg    *registry.Registry
	router *Router
}

func NewHandler(reg *registry.Registry, router *Router) *Handler {
	return &Handler{reg: reg, router: router}
}

// ServeWs upgrades an authenticated request into a live connection. The
// channel class comes from the ?channel= query param (chat, voice, video)
// and defaults to chat.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, username, ok := middleware.Identity(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	class := registry.ParseClass(r.URL.Query().Get("channel"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	client := newClient(conn, h.reg, h.router, userID, username, class)
	h.reg.Register(r.Context(), userID, class, client)

	_ = client.Send(event.New(event.AuthSuccess, struct {
		UserID   int64  `json:"user_id"`
		Username string `json:"username"`
		Channel  string `json:"channel"`
	}{userID, username, string(class)}))

	go client.writePump()
	go client.readPump()
}
