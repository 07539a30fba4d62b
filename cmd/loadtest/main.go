package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	BaseURL   = "http://localhost:8080"
	WSURL     = "ws://localhost:8080/ws"
	PairCount = 50 // pairs of users chatting 1:1
	MsgCount  = 20 // messages per user
)

type AuthResponse struct {
	Token    string `json:"access_token"`
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type ConversationResponse struct {
	ID int64 `json:"id"`
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	log.Printf("🔥 STARTING STRESS TEST: %d Users, %d Messages each...", PairCount*2, MsgCount)
	var wg sync.WaitGroup

	for i := 0; i < PairCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID)
		}(i)
	}

	wg.Wait()
	log.Println("✅ LOAD TEST COMPLETE")
}

func runPair(pairID int) {
	userA := fmt.Sprintf("u_%d_a", pairID)
	userB := fmt.Sprintf("u_%d_b", pairID)
	pass := "password123"

	tokenA, _ := authenticate(userA, pass)
	tokenB, idB := authenticate(userB, pass)
	if tokenA == "" || tokenB == "" {
		return
	}

	chatID := createConversation(tokenA, idB)
	if chatID == 0 {
		return
	}

	var wsWg sync.WaitGroup
	wsWg.Add(2)
	go spamChat(&wsWg, tokenA, chatID, userA)
	go spamChat(&wsWg, tokenB, chatID, userB)
	wsWg.Wait()
}

// authenticate registers (ignores error if exists) and logs in
func authenticate(username, password string) (string, int64) {
	creds, _ := json.Marshal(map[string]string{"username": username, "password": password})

	resp, err := http.Post(BaseURL+"/register", "application/json", bytes.NewReader(creds))
	if err == nil {
		resp.Body.Close()
	}

	resp, err = http.Post(BaseURL+"/login", "application/json", bytes.NewReader(creds))
	if err != nil {
		log.Printf("❌ Login failed for %s: %v", username, err)
		return "", 0
	}
	defer resp.Body.Close()

	var auth AuthResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return "", 0
	}
	return auth.Token, auth.ID
}

func createConversation(token string, otherID int64) int64 {
	body, _ := json.Marshal(map[string]int64{"user_id": otherID})
	req, _ := http.NewRequest(http.MethodPost, BaseURL+"/api/conversations", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Printf("❌ Conversation failed: %v", err)
		return 0
	}
	defer resp.Body.Close()

	var conv ConversationResponse
	if err := json.NewDecoder(resp.Body).Decode(&conv); err != nil {
		return 0
	}
	return conv.ID
}

func spamChat(wg *sync.WaitGroup, token string, chatID int64, username string) {
	defer wg.Done()

	conn, _, err := websocket.DefaultDialer.Dial(WSURL+"?token="+token, nil)
	if err != nil {
		log.Printf("❌ WS dial failed for %s: %v", username, err)
		return
	}
	defer conn.Close()

	// Drain inbound events so the server never sees us as a slow consumer.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for i := 0; i < MsgCount; i++ {
		payload, _ := json.Marshal(map[string]any{
			"direct_chat_id": chatID,
			"content":        fmt.Sprintf("msg %d from %s", i, username),
		})
		frame, _ := json.Marshal(envelope{Type: "send_message", Payload: payload})
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Printf("❌ Write failed for %s: %v", username, err)
			return
		}
		// Heartbeat roughly every ten messages to stay out of the stale sweep.
		if i%10 == 9 {
			ping, _ := json.Marshal(envelope{Type: "ping"})
			conn.WriteMessage(websocket.TextMessage, ping)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
