package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatrelay/internal/event"
	"chatrelay/internal/registry"
)

const (
	writeWait = 10 * time.Second
	// SDP offers can run to several KB.
	maxMessageSize = 16384
	sendBuffer     = 256
)

var errConnClosed = errors.New("connection closed")

// Client is the middleman between one websocket connection and the core. It
// implements registry.Conn; the registry owns its lifecycle once registered.
// Inbound frames are handled sequentially in the read pump, so per-connection
// ordering matches receipt order.
type Client struct {
	UserID   int64
	Username string
	Class    registry.ChannelClass

	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	reg    *registry.Registry
	router *Router
}

func newClient(conn *websocket.Conn, reg *registry.Registry, router *Router, userID int64, username string, class registry.ChannelClass) *Client {
	return &Client{
		UserID:   userID,
		Username: username,
		Class:    class,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		reg:      reg,
		router:   router,
	}
}

// Send queues an event for the write pump. It never blocks: a closed client
// rejects the frame, and a client too slow to drain its buffer is closed
// and evicted rather than allowed to stall the sender.
func (c *Client) Send(e event.Envelope) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.Close()
		return errConnClosed
	}
}

// Close is idempotent; the write pump notices and tears the socket down.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump pumps inbound frames through the router until the connection
// dies, then unregisters. The registry's offline hook takes care of group
// call departures.
func (c *Client) readPump() {
	defer func() {
		c.reg.Unregister(context.Background(), c.UserID, c.Class, c)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws: read from user %d: %v", c.UserID, err)
			}
			return
		}

		var env event.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.sendError(event.InvalidPayload("malformed frame"))
			continue
		}
		c.router.Dispatch(context.Background(), c, env)
	}
}

// writePump drains the send queue to the socket, batching queued frames into
// a single write where possible.
func (c *Client) writePump() {
	defer c.conn.Close()
	for {
		select {
		case <-c.done:
			c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				c.Close()
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				c.Close()
				return
			}
		}
	}
}

func (c *Client) sendError(e *event.Err) {
	_ = c.Send(event.New(event.Error, e))
}
