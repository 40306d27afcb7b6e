package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	pion "github.com/pion/webrtc/v4"

	"github.com/NickNameYouTuber/NIMeet/internal/config"
	"github.com/NickNameYouTuber/NIMeet/internal/protocol"
	"github.com/NickNameYouTuber/NIMeet/internal/webrtc"
)

// ErrNotConnected is returned when a send is attempted with no live relay
// connection; the reconnect loop will restore one.
var ErrNotConnected = errors.New("not connected to signaling relay")

// Status describes the session's relay connection for status displays.
type Status int

const (
	StatusConnecting Status = iota
	StatusConnected
	StatusReconnecting
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosed:
		return "closed"
	}
	return "unknown"
}

// Session ties one room membership together: it owns the relay connection,
// feeds signaling traffic into the negotiation engine, implements the
// engine's Signaler, and redials with backoff when the relay drops.
type Session struct {
	cfg    *config.Config
	logger *slog.Logger

	roomID   string
	userID   string
	username string

	engine *webrtc.Engine

	mu     sync.Mutex
	conn   *Conn
	closed bool

	onStatus    func(s Status)
	onEvicted   func()
	onServerErr func(reason string)
}

// NewSession builds a session and its negotiation engine for one room.
func NewSession(cfg *config.Config, roomID, userID, username string, media *webrtc.MediaSession, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		cfg:      cfg,
		logger:   logger.With("component", "session", "room", roomID),
		roomID:   roomID,
		userID:   userID,
		username: username,
	}
	s.engine = webrtc.NewEngine(s, webrtc.NewPionTransportFactory(cfg, logger), media, username, logger)

	// Eviction means a newer session of this user holds the room slot;
	// redialing would only evict it back.
	s.engine.OnEvicted(func() {
		s.logger.Warn("session evicted by a newer join")
		s.markClosed()
		if s.onEvicted != nil {
			s.onEvicted()
		}
	})
	return s
}

// Engine exposes the negotiation engine for media controls and stream
// callbacks.
func (s *Session) Engine() *webrtc.Engine { return s.engine }

func (s *Session) RoomID() string { return s.roomID }

func (s *Session) OnStatusChange(fn func(st Status)) { s.onStatus = fn }

// OnEvicted fires when a newer session of the same user takes over the room.
func (s *Session) OnEvicted(fn func()) { s.onEvicted = fn }

func (s *Session) OnServerError(fn func(reason string)) { s.onServerErr = fn }

// Run connects to the relay and processes signaling until the context ends,
// the session is closed, or reconnection gives up. Joining happens after the
// relay hands out the connection identity, and again after every redial.
func (s *Session) Run(ctx context.Context) error {
	defer s.engine.Close()
	defer s.setStatus(StatusClosed)

	for attempt := 0; ; attempt++ {
		if s.isClosed() {
			return nil
		}
		if attempt == 0 {
			s.setStatus(StatusConnecting)
		} else {
			s.setStatus(StatusReconnecting)
			// Offer bookkeeping restarts from scratch; the relay evicts our
			// stale participant record when the rejoin lands.
			s.engine.ResetNegotiation()
		}

		conn, err := s.dial(ctx)
		if err != nil {
			return err
		}
		s.setConn(conn)
		s.setStatus(StatusConnected)

		if err := s.pump(ctx, conn); err != nil {
			return err
		}
		if s.isClosed() {
			return nil
		}
		s.logger.Warn("relay connection lost, reconnecting")
	}
}

func (s *Session) dial(ctx context.Context) (*Conn, error) {
	var conn *Conn
	op := func() error {
		c := NewConn(s.cfg.WebSocketURL, s.logger)
		if err := c.Connect(); err != nil {
			s.logger.Warn("relay dial failed, will retry", "url", s.cfg.WebSocketURL, "err", err)
			return err
		}
		conn = c
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 5 * time.Minute

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *Session) pump(ctx context.Context, conn *Conn) error {
	for {
		select {
		case <-ctx.Done():
			s.sendLeave()
			conn.Close()
			return nil

		case msg, ok := <-conn.Incoming():
			if !ok {
				return nil
			}
			s.dispatch(msg)
		}
	}
}

func (s *Session) dispatch(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeConnected:
		var p protocol.ConnectedPayload
		if err := msg.Decode(&p); err != nil {
			s.logger.Warn("malformed connected payload", "err", err)
			return
		}
		s.engine.HandleConnected(p.ConnectionID)
		s.sendJoin()

	case protocol.TypeExistingParticipants:
		var p protocol.ExistingParticipantsPayload
		if err := msg.Decode(&p); err != nil {
			s.logger.Warn("malformed roster payload", "err", err)
			return
		}
		s.engine.HandleExistingParticipants(p.Participants)

	case protocol.TypeUserJoined:
		var p protocol.UserJoinedPayload
		if err := msg.Decode(&p); err != nil {
			s.logger.Warn("malformed user-joined payload", "err", err)
			return
		}
		s.engine.HandleUserJoined(p.Participant)

	case protocol.TypeUserLeft:
		var p protocol.UserLeftPayload
		if err := msg.Decode(&p); err != nil {
			s.logger.Warn("malformed user-left payload", "err", err)
			return
		}
		s.engine.HandleUserLeft(p.ConnectionID)

	case protocol.TypeReceiveOffer:
		from, sdp, ok := s.decodeSessionDescription(msg)
		if ok {
			s.engine.HandleRemoteOffer(from, sdp)
		}

	case protocol.TypeReceiveAnswer:
		from, sdp, ok := s.decodeSessionDescription(msg)
		if ok {
			s.engine.HandleRemoteAnswer(from, sdp)
		}

	case protocol.TypeReceiveICECandidate:
		var p protocol.RelayPayload
		if err := msg.Decode(&p); err != nil {
			s.logger.Warn("malformed relay payload", "err", err)
			return
		}
		var candidate pion.ICECandidateInit
		if err := json.Unmarshal(p.Payload, &candidate); err != nil {
			s.logger.Warn("malformed ICE candidate", "from", p.From, "err", err)
			return
		}
		s.engine.HandleRemoteICECandidate(p.From, candidate)

	case protocol.TypeMediaToggled:
		var p protocol.MediaToggledPayload
		if err := msg.Decode(&p); err != nil {
			s.logger.Warn("malformed media-toggled payload", "err", err)
			return
		}
		s.engine.HandleMediaToggled(p.ConnectionID, p.MediaType, p.Enabled)

	case protocol.TypeScreenShareStarted:
		var p protocol.ScreenSharePayload
		if err := msg.Decode(&p); err != nil {
			s.logger.Warn("malformed screen-share payload", "err", err)
			return
		}
		s.engine.HandleScreenShareStarted(p.ConnectionID, p.ScreenStreamID)

	case protocol.TypeScreenShareStopped:
		var p protocol.ScreenSharePayload
		if err := msg.Decode(&p); err != nil {
			s.logger.Warn("malformed screen-share payload", "err", err)
			return
		}
		s.engine.HandleScreenShareStopped(p.ConnectionID)

	case protocol.TypeError:
		var p protocol.ErrorPayload
		if err := msg.Decode(&p); err != nil {
			return
		}
		s.logger.Error("relay rejected request", "reason", p.Error)
		if s.onServerErr != nil {
			s.onServerErr(p.Error)
		}

	default:
		s.logger.Debug("ignoring unknown message type", "type", msg.Type)
	}
}

func (s *Session) decodeSessionDescription(msg *protocol.Message) (from string, sdp pion.SessionDescription, ok bool) {
	var p protocol.RelayPayload
	if err := msg.Decode(&p); err != nil {
		s.logger.Warn("malformed relay payload", "err", err)
		return "", pion.SessionDescription{}, false
	}
	if err := json.Unmarshal(p.Payload, &sdp); err != nil {
		s.logger.Warn("malformed session description", "from", p.From, "err", err)
		return "", pion.SessionDescription{}, false
	}
	return p.From, sdp, true
}

// Media controls. Local toggles also notify the room so rosters stay true.

func (s *Session) ToggleCamera() (bool, error) {
	enabled, err := s.engine.ToggleCamera()
	if err != nil {
		return false, err
	}
	s.sendToggle(protocol.MediaCamera, enabled)
	return enabled, nil
}

func (s *Session) ToggleMicrophone() (bool, error) {
	enabled, err := s.engine.ToggleMicrophone()
	if err != nil {
		return false, err
	}
	s.sendToggle(protocol.MediaMicrophone, enabled)
	return enabled, nil
}

func (s *Session) StartScreenShare() (string, error) {
	return s.engine.StartScreenShare()
}

func (s *Session) StopScreenShare() error {
	return s.engine.StopScreenShare()
}

func (s *Session) SendChat(text string) {
	s.engine.SendChat(text)
}

// DeclareMediaState reports a local toggle state to the room without
// touching capture, used when joining with a device disabled.
func (s *Session) DeclareMediaState(mediaType protocol.MediaType, enabled bool) {
	s.sendToggle(mediaType, enabled)
}

// Signaler implementation; the engine's peer links call these.

func (s *Session) SendOffer(targetConnID string, sdp pion.SessionDescription) error {
	return s.sendRelay(protocol.TypeOffer, targetConnID, sdp)
}

func (s *Session) SendAnswer(targetConnID string, sdp pion.SessionDescription) error {
	return s.sendRelay(protocol.TypeAnswer, targetConnID, sdp)
}

func (s *Session) SendICECandidate(targetConnID string, candidate pion.ICECandidateInit) error {
	return s.sendRelay(protocol.TypeICECandidate, targetConnID, candidate)
}

// AnnounceScreenShare publishes the stream id and flips the roster's screen
// flag, so both classification and late-join replay see the share.
func (s *Session) AnnounceScreenShare(streamID string) error {
	if err := s.send(protocol.MustMessage(protocol.TypeScreenShareStarted, protocol.ScreenSharePayload{
		RoomID:         s.roomID,
		ScreenStreamID: streamID,
	})); err != nil {
		return err
	}
	s.sendToggle(protocol.MediaScreen, true)
	return nil
}

func (s *Session) RetractScreenShare() error {
	if err := s.send(protocol.MustMessage(protocol.TypeScreenShareStopped, protocol.ScreenSharePayload{
		RoomID: s.roomID,
	})); err != nil {
		return err
	}
	s.sendToggle(protocol.MediaScreen, false)
	return nil
}

func (s *Session) sendRelay(msgType, targetConnID string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.send(protocol.MustMessage(msgType, protocol.RelayPayload{
		TargetConnectionID: targetConnID,
		Payload:            raw,
	}))
}

func (s *Session) sendJoin() {
	err := s.send(protocol.MustMessage(protocol.TypeJoinRoom, protocol.JoinRoomPayload{
		RoomID:   s.roomID,
		UserID:   s.userID,
		Username: s.username,
	}))
	if err != nil {
		s.logger.Error("failed to send join", "err", err)
	}
}

func (s *Session) sendLeave() {
	_ = s.send(protocol.MustMessage(protocol.TypeLeaveRoom, protocol.LeaveRoomPayload{
		RoomID: s.roomID,
	}))
}

func (s *Session) sendToggle(mediaType protocol.MediaType, enabled bool) {
	err := s.send(protocol.MustMessage(protocol.TypeToggleMedia, protocol.ToggleMediaPayload{
		RoomID:    s.roomID,
		MediaType: mediaType,
		Enabled:   enabled,
	}))
	if err != nil {
		s.logger.Warn("failed to send media toggle", "type", mediaType, "err", err)
	}
}

func (s *Session) send(msg *protocol.Message) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	conn.Send(msg)
	return nil
}

// Close leaves the room and stops the reconnect loop.
func (s *Session) Close() {
	s.markClosed()
}

func (s *Session) markClosed() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		s.sendLeaveOn(conn)
		conn.Close()
	}
}

func (s *Session) sendLeaveOn(conn *Conn) {
	conn.Send(protocol.MustMessage(protocol.TypeLeaveRoom, protocol.LeaveRoomPayload{
		RoomID: s.roomID,
	}))
}

func (s *Session) setConn(conn *Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) setStatus(st Status) {
	if s.onStatus != nil {
		s.onStatus(st)
	}
}
