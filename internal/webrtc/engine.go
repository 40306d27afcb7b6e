package webrtc

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	pion "github.com/pion/webrtc/v4"

	"github.com/NickNameYouTuber/NIMeet/internal/protocol"
)

// Engine owns one peer link per remote participant and routes signaling
// events into the right link's state machine. All roster, classification and
// announcement bookkeeping lives here; the links stay pure negotiation.
type Engine struct {
	logger *slog.Logger

	signaler     Signaler
	newTransport TransportFactory
	media        *MediaSession
	username     string

	mu          sync.Mutex
	localConnID string
	links       map[string]*PeerLink
	chats       map[string]DataChannel

	// announcedScreen maps remote connection id to the screen stream id the
	// peer declared over the relay — the authoritative classification input.
	announcedScreen map[string]string
	expectingScreen map[string]bool

	// offersCreated guards against offering twice to the same connection.
	// Cleared on relay reconnect so negotiation restarts cleanly.
	offersCreated map[string]bool

	remoteCamera map[string]*RemoteStream
	remoteScreen map[string]*RemoteStream
	participants map[string]protocol.Participant

	screenStreamID string

	onCameraStream func(connID string, s *RemoteStream)
	onScreenStream func(connID string, s *RemoteStream)
	onPeerRemoved  func(connID string)
	onRoster       func(parts []protocol.Participant)
	onChat         func(msg ChatMessage)
	onEvicted      func()
}

// NewEngine builds an engine around a media session and a transport factory.
func NewEngine(signaler Signaler, newTransport TransportFactory, media *MediaSession, username string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger:          logger.With("component", "engine"),
		signaler:        signaler,
		newTransport:    newTransport,
		media:           media,
		username:        username,
		links:           make(map[string]*PeerLink),
		chats:           make(map[string]DataChannel),
		announcedScreen: make(map[string]string),
		expectingScreen: make(map[string]bool),
		offersCreated:   make(map[string]bool),
		remoteCamera:    make(map[string]*RemoteStream),
		remoteScreen:    make(map[string]*RemoteStream),
		participants:    make(map[string]protocol.Participant),
	}
}

// Callback registration. All callbacks may be invoked from transport or
// signaling goroutines.

func (e *Engine) OnRemoteCameraStream(fn func(connID string, s *RemoteStream)) {
	e.onCameraStream = fn
}

// OnRemoteScreenStream fires with a nil stream when the peer's share ends.
func (e *Engine) OnRemoteScreenStream(fn func(connID string, s *RemoteStream)) {
	e.onScreenStream = fn
}

func (e *Engine) OnPeerRemoved(fn func(connID string)) { e.onPeerRemoved = fn }

func (e *Engine) OnRosterChange(fn func(parts []protocol.Participant)) { e.onRoster = fn }

func (e *Engine) OnChatMessage(fn func(msg ChatMessage)) { e.onChat = fn }

// OnEvicted fires when the relay reports our own departure: a newer session
// of the same user took the room slot.
func (e *Engine) OnEvicted(fn func()) { e.onEvicted = fn }

// Media returns the engine's media session.
func (e *Engine) Media() *MediaSession { return e.media }

// LocalConnID returns the connection identity the relay assigned us.
func (e *Engine) LocalConnID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.localConnID
}

// HandleConnected records the connection identity minted by the relay.
func (e *Engine) HandleConnected(connID string) {
	e.mu.Lock()
	e.localConnID = connID
	e.mu.Unlock()
}

// HandleExistingParticipants consumes the roster snapshot a join returns.
// Links are prepared for every member so their offers can be answered, and
// screen-share state is recorded first so inbound tracks classify correctly.
func (e *Engine) HandleExistingParticipants(parts []protocol.Participant) {
	e.mu.Lock()
	for _, p := range parts {
		e.participants[p.ConnectionID] = p
		if p.MediaState.Screen || p.ScreenStreamID != "" {
			e.expectingScreen[p.ConnectionID] = true
			if p.ScreenStreamID != "" {
				e.announcedScreen[p.ConnectionID] = p.ScreenStreamID
			}
		}
	}
	e.mu.Unlock()

	for _, p := range parts {
		if _, err := e.ensureLink(p.ConnectionID); err != nil {
			e.logger.Error("failed to prepare peer link", "peer", p.ConnectionID, "err", err)
		}
	}
	e.fireRoster()
}

// HandleUserJoined admits a newcomer: the existing member initiates the
// negotiation, exactly once per connection.
func (e *Engine) HandleUserJoined(p protocol.Participant) {
	e.mu.Lock()
	if p.ConnectionID == e.localConnID {
		e.mu.Unlock()
		return
	}
	e.participants[p.ConnectionID] = p
	e.mu.Unlock()

	e.fireRoster()

	link, err := e.ensureLink(p.ConnectionID)
	if err != nil {
		e.logger.Error("failed to create peer link", "peer", p.ConnectionID, "err", err)
		return
	}

	// Mark the peer offered only once a link exists, so a failed transport
	// leaves the next user-joined free to retry.
	e.mu.Lock()
	if e.offersCreated[p.ConnectionID] {
		e.mu.Unlock()
		return
	}
	e.offersCreated[p.ConnectionID] = true
	e.mu.Unlock()

	if err := link.CreateOffer(false); err != nil {
		e.mu.Lock()
		delete(e.offersCreated, p.ConnectionID)
		e.mu.Unlock()
		e.logger.Error("initial offer failed", "peer", p.ConnectionID, "err", err)
	}
}

// HandleUserLeft tears down the departed peer's link. Receiving our own
// connection id means we were evicted by a newer session.
func (e *Engine) HandleUserLeft(connID string) {
	e.mu.Lock()
	if connID == e.localConnID {
		e.mu.Unlock()
		e.logger.Warn("evicted by a newer session, stopping all peer links")
		e.closeAllLinks()
		if e.onEvicted != nil {
			e.onEvicted()
		}
		return
	}
	e.mu.Unlock()
	e.removePeer(connID)
}

// removePeer drops every trace of a departed peer and closes its link.
func (e *Engine) removePeer(connID string) {
	e.mu.Lock()
	link := e.links[connID]
	delete(e.links, connID)
	delete(e.chats, connID)
	delete(e.participants, connID)
	delete(e.announcedScreen, connID)
	delete(e.expectingScreen, connID)
	delete(e.offersCreated, connID)
	delete(e.remoteCamera, connID)
	delete(e.remoteScreen, connID)
	e.mu.Unlock()

	if link != nil {
		if err := link.Close(); err != nil {
			e.logger.Warn("error closing peer link", "peer", connID, "err", err)
		}
	}
	if e.onPeerRemoved != nil {
		e.onPeerRemoved(connID)
	}
	e.fireRoster()
}

// HandleRemoteOffer feeds a relayed offer into the peer's state machine,
// creating the link on first contact.
func (e *Engine) HandleRemoteOffer(from string, offer pion.SessionDescription) {
	link, err := e.ensureLink(from)
	if err != nil {
		e.logger.Error("failed to create peer link for offer", "peer", from, "err", err)
		return
	}
	if err := link.HandleOffer(offer); err != nil {
		e.logger.Error("failed to handle offer", "peer", from, "err", err)
	}
}

// HandleRemoteAnswer feeds a relayed answer into the peer's state machine.
// Answers for unknown peers are stale and dropped.
func (e *Engine) HandleRemoteAnswer(from string, answer pion.SessionDescription) {
	link := e.link(from)
	if link == nil {
		e.logger.Debug("answer from unknown peer", "peer", from)
		return
	}
	if err := link.HandleAnswer(answer); err != nil {
		e.logger.Error("failed to handle answer", "peer", from, "err", err)
	}
}

// HandleRemoteICECandidate applies a trickled candidate.
func (e *Engine) HandleRemoteICECandidate(from string, candidate pion.ICECandidateInit) {
	link := e.link(from)
	if link == nil {
		e.logger.Debug("ICE candidate from unknown peer", "peer", from)
		return
	}
	if err := link.HandleICECandidate(candidate); err != nil {
		e.logger.Warn("failed to add ICE candidate", "peer", from, "err", err)
	}
}

// HandleMediaToggled mirrors a remote media state change into the roster.
func (e *Engine) HandleMediaToggled(connID string, mediaType protocol.MediaType, enabled bool) {
	e.mu.Lock()
	p, ok := e.participants[connID]
	if ok {
		switch mediaType {
		case protocol.MediaCamera:
			p.MediaState.Camera = enabled
		case protocol.MediaMicrophone:
			p.MediaState.Microphone = enabled
		case protocol.MediaScreen:
			p.MediaState.Screen = enabled
		}
		e.participants[connID] = p
	}
	e.mu.Unlock()

	if ok {
		e.fireRoster()
	}
}

// HandleScreenShareStarted records the authoritative screen-stream id for a
// peer and reserves an inbound video line on its link.
func (e *Engine) HandleScreenShareStarted(connID, streamID string) {
	e.mu.Lock()
	e.announcedScreen[connID] = streamID
	e.expectingScreen[connID] = true
	link := e.links[connID]
	e.mu.Unlock()

	e.logger.Info("peer started screen share", "peer", connID, "stream_id", streamID)
	if link != nil {
		link.ExpectScreen()
	}
}

// HandleScreenShareStopped clears the peer's announcement and drops its
// classified screen stream.
func (e *Engine) HandleScreenShareStopped(connID string) {
	e.mu.Lock()
	delete(e.announcedScreen, connID)
	delete(e.expectingScreen, connID)
	delete(e.remoteScreen, connID)
	e.mu.Unlock()

	e.logger.Info("peer stopped screen share", "peer", connID)
	if e.onScreenStream != nil {
		e.onScreenStream(connID, nil)
	}
}

// ToggleCamera flips the outbound camera. When the device was never granted
// the track is lazily acquired and attached to every link.
func (e *Engine) ToggleCamera() (bool, error) {
	return e.toggleTrack(TrackVideo)
}

// ToggleMicrophone flips the outbound microphone, acquiring it lazily.
func (e *Engine) ToggleMicrophone() (bool, error) {
	return e.toggleTrack(TrackAudio)
}

func (e *Engine) toggleTrack(kind TrackKind) (bool, error) {
	if t := e.media.Track(kind); t != nil {
		// The track object is shared across every link's sender, so one flip
		// reaches all peers at once.
		next := !t.Enabled()
		t.SetEnabled(next)
		return next, nil
	}

	t, _, err := e.media.EnsureTrack(kind)
	if err != nil {
		return false, err
	}

	for _, link := range e.snapshotLinks() {
		added, err := link.AttachTrack(t)
		if err != nil {
			e.logger.Warn("failed to attach new track", "peer", link.RemoteConnID(), "kind", kind, "err", err)
			continue
		}
		if added {
			if err := link.CreateOffer(false); err != nil {
				e.logger.Warn("renegotiation offer failed", "peer", link.RemoteConnID(), "err", err)
			}
		}
	}
	return true, nil
}

// StartScreenShare captures the display, announces the stream id through the
// relay so receivers classify it authoritatively, attaches the track to
// every link as a distinct stream and renegotiates.
func (e *Engine) StartScreenShare() (string, error) {
	track, err := e.media.StartScreen()
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	e.screenStreamID = track.StreamID()
	e.mu.Unlock()

	// The capture source going away (window closed, native stop control)
	// ends the share the same way an explicit stop does.
	track.OnEnded(func() {
		e.StopScreenShare()
	})

	if err := e.signaler.AnnounceScreenShare(track.StreamID()); err != nil {
		e.logger.Warn("failed to announce screen share", "err", err)
	}

	for _, link := range e.snapshotLinks() {
		if err := link.AttachScreen(track); err != nil {
			e.logger.Warn("failed to attach screen track", "peer", link.RemoteConnID(), "err", err)
			continue
		}
		if err := link.CreateOffer(false); err != nil {
			e.logger.Warn("screen renegotiation offer failed", "peer", link.RemoteConnID(), "err", err)
		}
	}

	e.logger.Info("screen share started", "stream_id", track.StreamID())
	return track.StreamID(), nil
}

// StopScreenShare ends the share: the track stops, the announcement is
// retracted, the dedicated sender leaves every link and a renegotiation
// removes the screen media line. Safe to call redundantly.
func (e *Engine) StopScreenShare() error {
	e.mu.Lock()
	if e.screenStreamID == "" {
		e.mu.Unlock()
		return nil
	}
	e.screenStreamID = ""
	e.mu.Unlock()

	e.media.StopScreen()

	if err := e.signaler.RetractScreenShare(); err != nil {
		e.logger.Warn("failed to retract screen share", "err", err)
	}

	for _, link := range e.snapshotLinks() {
		if err := link.DetachScreen(); err != nil {
			e.logger.Warn("failed to detach screen track", "peer", link.RemoteConnID(), "err", err)
		}
		if err := link.CreateOffer(false); err != nil {
			e.logger.Warn("screen teardown offer failed", "peer", link.RemoteConnID(), "err", err)
		}
	}

	e.logger.Info("screen share stopped")
	return nil
}

// SendChat delivers a chat line to every connected peer over the per-link
// data channels.
func (e *Engine) SendChat(text string) {
	data, err := EncodeChatMessage(ChatMessage{
		Sender: e.username,
		Text:   text,
		SentAt: time.Now(),
	})
	if err != nil {
		e.logger.Warn("failed to encode chat message", "err", err)
		return
	}

	e.mu.Lock()
	channels := make([]DataChannel, 0, len(e.chats))
	for _, dc := range e.chats {
		channels = append(channels, dc)
	}
	e.mu.Unlock()

	for _, dc := range channels {
		if err := dc.Send(data); err != nil {
			e.logger.Debug("chat send failed", "err", err)
		}
	}
}

// Roster returns the current participant list, ordered by connection id.
func (e *Engine) Roster() []protocol.Participant {
	e.mu.Lock()
	defer e.mu.Unlock()
	parts := make([]protocol.Participant, 0, len(e.participants))
	for _, p := range e.participants {
		parts = append(parts, p)
	}
	sort.Slice(parts, func(i, j int) bool {
		return parts[i].ConnectionID < parts[j].ConnectionID
	})
	return parts
}

// ResetNegotiation clears the per-peer offer bookkeeping after a relay
// reconnect so negotiation can restart cleanly; stale-session eviction on
// the server cleans up the dead participant record.
func (e *Engine) ResetNegotiation() {
	e.mu.Lock()
	e.offersCreated = make(map[string]bool)
	e.mu.Unlock()
}

// Close tears down every link and stops local capture.
func (e *Engine) Close() {
	e.closeAllLinks()
	e.media.Close()
}

func (e *Engine) closeAllLinks() {
	e.mu.Lock()
	links := e.links
	e.links = make(map[string]*PeerLink)
	e.chats = make(map[string]DataChannel)
	e.mu.Unlock()

	for _, link := range links {
		if err := link.Close(); err != nil {
			e.logger.Warn("error closing peer link", "peer", link.RemoteConnID(), "err", err)
		}
	}
}

func (e *Engine) link(connID string) *PeerLink {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.links[connID]
}

func (e *Engine) snapshotLinks() []*PeerLink {
	e.mu.Lock()
	defer e.mu.Unlock()
	links := make([]*PeerLink, 0, len(e.links))
	for _, l := range e.links {
		links = append(links, l)
	}
	return links
}

// ensureLink returns the link for a remote connection, creating transport,
// callbacks and chat channel on first contact.
func (e *Engine) ensureLink(remoteConnID string) (*PeerLink, error) {
	e.mu.Lock()
	if link, ok := e.links[remoteConnID]; ok {
		e.mu.Unlock()
		return link, nil
	}
	localConnID := e.localConnID
	expectScreen := e.expectingScreen[remoteConnID]
	e.mu.Unlock()

	transport, err := e.newTransport()
	if err != nil {
		return nil, newPeerError("create transport", remoteConnID, err)
	}

	transport.OnTrack(func(t RemoteTrack) {
		e.handleRemoteTrack(remoteConnID, t)
	})
	transport.OnDataChannel(func(dc DataChannel) {
		if dc.Label() == chatChannelLabel {
			e.registerChat(remoteConnID, dc)
		}
	})

	link := NewPeerLink(localConnID, remoteConnID, transport, e.signaler, e.media, e.logger)
	if expectScreen {
		link.ExpectScreen()
	}

	// Opening the chat channel here, before any offer, folds it into the
	// first negotiation round.
	if dc, err := transport.CreateDataChannel(chatChannelLabel); err != nil {
		e.logger.Debug("chat channel unavailable", "peer", remoteConnID, "err", err)
	} else {
		e.registerChat(remoteConnID, dc)
	}

	e.mu.Lock()
	if existing, ok := e.links[remoteConnID]; ok {
		// Lost a creation race; keep the first link.
		e.mu.Unlock()
		link.Close()
		return existing, nil
	}
	e.links[remoteConnID] = link
	e.mu.Unlock()
	return link, nil
}

func (e *Engine) registerChat(connID string, dc DataChannel) {
	dc.OnMessage(func(data []byte) {
		msg, err := DecodeChatMessage(data)
		if err != nil {
			e.logger.Debug("dropping malformed chat message", "peer", connID, "err", err)
			return
		}
		if e.onChat != nil {
			e.onChat(msg)
		}
	})

	e.mu.Lock()
	e.chats[connID] = dc
	e.mu.Unlock()
}

// handleRemoteTrack classifies an inbound track and folds it into the
// peer's camera or screen aggregate.
func (e *Engine) handleRemoteTrack(connID string, t RemoteTrack) {
	e.mu.Lock()

	if t.Kind == TrackAudio {
		stream := e.cameraStreamLocked(connID, t.StreamID)
		stream.addTrack(t)
		e.mu.Unlock()
		e.logger.Debug("remote audio track", "peer", connID, "stream_id", t.StreamID)
		if e.onCameraStream != nil {
			e.onCameraStream(connID, stream)
		}
		return
	}

	class, reason := ClassifyVideo(t, e.announcedScreen[connID], e.remoteCamera[connID] != nil)
	e.logger.Info("classified remote video track",
		"peer", connID,
		"stream_id", t.StreamID,
		"class", class,
		"reason", reason,
	)

	if class == ClassScreen {
		stream, ok := e.remoteScreen[connID]
		if !ok {
			stream = &RemoteStream{ID: t.StreamID, Class: ClassScreen}
			e.remoteScreen[connID] = stream
		}
		stream.addTrack(t)
		e.mu.Unlock()
		if e.onScreenStream != nil {
			e.onScreenStream(connID, stream)
		}
		return
	}

	stream := e.cameraStreamLocked(connID, t.StreamID)
	stream.addTrack(t)
	e.mu.Unlock()
	if e.onCameraStream != nil {
		e.onCameraStream(connID, stream)
	}
}

// cameraStreamLocked returns the peer's camera aggregate, creating it with
// the carrying stream's id on first use. Audio and camera video from one
// peer share the aggregate.
func (e *Engine) cameraStreamLocked(connID, streamID string) *RemoteStream {
	stream, ok := e.remoteCamera[connID]
	if !ok {
		stream = &RemoteStream{ID: streamID, Class: ClassCamera}
		e.remoteCamera[connID] = stream
	}
	return stream
}

func (e *Engine) fireRoster() {
	if e.onRoster != nil {
		e.onRoster(e.Roster())
	}
}

// RemoteCameraStream returns the classified camera aggregate for a peer.
func (e *Engine) RemoteCameraStream(connID string) *RemoteStream {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remoteCamera[connID]
}

// RemoteScreenStream returns the classified screen aggregate for a peer.
func (e *Engine) RemoteScreenStream(connID string) *RemoteStream {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remoteScreen[connID]
}
