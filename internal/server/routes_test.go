package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NickNameYouTuber/NIMeet/internal/protocol"
	"github.com/NickNameYouTuber/NIMeet/internal/signaling"
)

func newRelay(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	hub := signaling.NewHub(nil)
	go hub.Run()
	srv := httptest.NewServer(NewRouter(hub))
	t.Cleanup(srv.Close)
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dialRelay(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) *protocol.Message {
	t.Helper()
	var msg protocol.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return &msg
}

// joinAs consumes the connected handshake and sends a join, returning the
// connection id the relay minted.
func joinAs(t *testing.T, conn *websocket.Conn, roomID, userID, username string) string {
	t.Helper()
	msg := readMessage(t, conn)
	if msg.Type != protocol.TypeConnected {
		t.Fatalf("first message = %s, want %s", msg.Type, protocol.TypeConnected)
	}
	var p protocol.ConnectedPayload
	if err := msg.Decode(&p); err != nil {
		t.Fatalf("decode connected: %v", err)
	}
	err := conn.WriteJSON(protocol.MustMessage(protocol.TypeJoinRoom, protocol.JoinRoomPayload{
		RoomID:   roomID,
		UserID:   userID,
		Username: username,
	}))
	if err != nil {
		t.Fatalf("send join: %v", err)
	}
	return p.ConnectionID
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newRelay(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

// A second session of the same user evicts the first. The old connection
// must read a user-left naming its own connection id before the server hangs
// up; a bare close would make that client treat it as a relay outage,
// rejoin, and evict the new session right back.
func TestEvictionNoticeReachesOldConnection(t *testing.T) {
	_, wsURL := newRelay(t)

	old := dialRelay(t, wsURL)
	oldConnID := joinAs(t, old, "r1", "user-1", "alice")
	if msg := readMessage(t, old); msg.Type != protocol.TypeExistingParticipants {
		t.Fatalf("after join got %s, want %s", msg.Type, protocol.TypeExistingParticipants)
	}

	fresh := dialRelay(t, wsURL)
	joinAs(t, fresh, "r1", "user-1", "alice")

	for {
		var msg protocol.Message
		if err := old.ReadJSON(&msg); err != nil {
			t.Fatalf("connection closed before the eviction notice arrived: %v", err)
		}
		if msg.Type != protocol.TypeUserLeft {
			continue
		}
		var p protocol.UserLeftPayload
		if err := msg.Decode(&p); err != nil {
			t.Fatalf("decode user-left: %v", err)
		}
		if p.ConnectionID != oldConnID {
			t.Fatalf("user-left names %q, want %q", p.ConnectionID, oldConnID)
		}
		break
	}

	// After the notice the server hangs up on its own.
	if _, _, err := old.ReadMessage(); err == nil {
		t.Fatal("expected the evicted connection to be closed")
	}

	// The new session is live: its roster handshake completed and the relay
	// still routes to it.
	if msg := readMessage(t, fresh); msg.Type != protocol.TypeExistingParticipants {
		t.Fatalf("fresh session got %s, want %s", msg.Type, protocol.TypeExistingParticipants)
	}
}
