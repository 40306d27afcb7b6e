package client

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NickNameYouTuber/NIMeet/internal/dns"
	"github.com/NickNameYouTuber/NIMeet/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	outgoingBufferSize = 32
)

// Conn is one websocket connection to the signaling relay. A Conn is
// single-use: after the incoming channel closes the owner dials a fresh one.
type Conn struct {
	conn      *websocket.Conn
	serverURL string
	logger    *slog.Logger
	incoming  chan *protocol.Message
	outgoing  chan *protocol.Message
	done      chan struct{}
	closeOnce sync.Once
}

func NewConn(serverURL string, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		serverURL: serverURL,
		logger:    logger.With("component", "signaling-conn"),
		incoming:  make(chan *protocol.Message, 1),
		outgoing:  make(chan *protocol.Message, outgoingBufferSize),
		done:      make(chan struct{}),
	}
}

// Connect dials the relay and starts the read and write pumps. The dialer
// resolves the host itself so broken local DNS falls back to public
// resolvers.
func (c *Conn) Connect() error {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	dialer := *websocket.DefaultDialer
	dialer.NetDial = func(network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		resolvedIP, err := dns.Lookup(host)
		if err != nil {
			return nil, fmt.Errorf("dns lookup failed: %w", err)
		}
		return net.Dial(network, net.JoinHostPort(resolvedIP, port))
	}

	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.conn = conn
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	return nil
}

// readPump pushes decoded messages into the incoming channel until the
// connection dies, then closes the channel so the owner notices.
func (c *Conn) readPump() {
	defer func() {
		c.conn.Close()
		close(c.incoming)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("websocket read failed", "err", err)
			}
			return
		}
		c.incoming <- &msg
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Send queues a message for the write pump. Messages are dropped with a log
// line when the buffer is full, which only happens on a dead connection.
func (c *Conn) Send(msg *protocol.Message) {
	select {
	case c.outgoing <- msg:
	default:
		c.logger.Warn("dropping outbound message, send buffer full", "type", msg.Type)
	}
}

// Incoming is closed when the connection terminates.
func (c *Conn) Incoming() <-chan *protocol.Message {
	return c.incoming
}

// Close sends a close frame and stops the write pump.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
