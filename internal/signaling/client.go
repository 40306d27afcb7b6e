package signaling

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NickNameYouTuber/NIMeet/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP bodies fit comfortably.
	maxMessageSize = 64 * 1024

	// Outbound buffer per connection. A full buffer drops the message rather
	// than stalling the hub loop.
	sendBufferSize = 256
)

// Client wraps a single websocket connection to the signaling server. The hub
// addresses it by its connection id, an ephemeral identity minted on upgrade.
type Client struct {
	Hub *Hub

	// ID is the connection identity relayed to other participants.
	ID string

	// Send is the outbound queue drained by WritePump.
	Send chan *protocol.Message

	conn      *websocket.Conn
	closeOnce sync.Once
}

// NewClient wires a freshly upgraded connection to the hub. conn may be nil
// in tests that drive the hub directly.
func NewClient(hub *Hub, conn *websocket.Conn, id string) *Client {
	return &Client{
		Hub:  hub,
		ID:   id,
		Send: make(chan *protocol.Message, sendBufferSize),
		conn: conn,
	}
}

// enqueue puts a message on the client's outbound queue without blocking the
// caller. Slow consumers lose messages instead of stalling the hub.
func (c *Client) enqueue(msg *protocol.Message) {
	select {
	case c.Send <- msg:
	default:
		slog.Warn("outbound queue full, dropping message",
			"connection_id", c.ID,
			"type", msg.Type,
		)
	}
}

// disconnect force-closes the underlying connection once both pumps are
// done with it.
func (c *Client) disconnect() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// One ReadPump goroutine runs per connection; all reads go through it so
// there is at most one reader on the socket.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.disconnect()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Error("websocket read failed", "connection_id", c.ID, "err", err)
			}
			break
		}

		c.Hub.Inbound <- &inboundMessage{client: c, msg: &msg}
	}
}

// WritePump pumps messages from the hub to the websocket connection and keeps
// the connection alive with periodic pings.
//
// One WritePump goroutine runs per connection; all writes go through it so
// there is at most one writer on the socket.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.disconnect()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(msg); err != nil {
				slog.Error("websocket write failed", "connection_id", c.ID, "err", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
