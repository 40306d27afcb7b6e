package webrtc

import (
	"log/slog"
	"sync"

	pion "github.com/pion/webrtc/v4"
)

// NegotiationState tracks where a peer link is in the offer/answer cycle.
type NegotiationState int

const (
	// StateStable means no negotiation is in flight.
	StateStable NegotiationState = iota

	// StateHaveLocalOffer means our offer is out, awaiting the answer.
	StateHaveLocalOffer

	// StateHaveRemoteOffer means a remote offer arrived, answer not yet sent.
	StateHaveRemoteOffer
)

func (s NegotiationState) String() string {
	switch s {
	case StateStable:
		return "stable"
	case StateHaveLocalOffer:
		return "have-local-offer"
	case StateHaveRemoteOffer:
		return "have-remote-offer"
	}
	return "unknown"
}

// TrackProvider supplies the local tracks a link should be sending. The
// media session implements it; fakes stand in for tests.
type TrackProvider interface {
	// LocalTracks returns the live camera and microphone tracks.
	LocalTracks() []*LocalTrack

	// ScreenTrack returns the active screen capture track, or nil.
	ScreenTrack() *LocalTrack
}

// PeerLink owns the negotiation state machine for one remote participant.
// Every transition is gated on the current state, so racing events (glare,
// stale answers, duplicate offers) degrade to logged no-ops instead of
// corrupting the session.
type PeerLink struct {
	logger *slog.Logger

	localConnID  string
	remoteConnID string

	transport Transport
	signaler  Signaler
	tracks    TrackProvider

	mu     sync.Mutex
	state  NegotiationState
	closed bool

	// one sender per track kind for camera/microphone, plus at most one
	// independent screen sender
	senders      map[TrackKind]Sender
	screenSender Sender

	recvonlyAdded   bool
	screenRecvAdded bool
	expectScreen    bool
}

// NewPeerLink wires a link over a fresh transport. ICE candidates flow to
// the signaler immediately; transport failure triggers an in-place
// ICE-restart offer rather than teardown.
func NewPeerLink(localConnID, remoteConnID string, transport Transport, signaler Signaler, tracks TrackProvider, logger *slog.Logger) *PeerLink {
	if logger == nil {
		logger = slog.Default()
	}
	l := &PeerLink{
		logger:       logger.With("peer", remoteConnID),
		localConnID:  localConnID,
		remoteConnID: remoteConnID,
		transport:    transport,
		signaler:     signaler,
		tracks:       tracks,
		state:        StateStable,
		senders:      make(map[TrackKind]Sender),
	}

	transport.OnICECandidate(func(c pion.ICECandidateInit) {
		if err := signaler.SendICECandidate(remoteConnID, c); err != nil {
			l.logger.Warn("failed to send ICE candidate", "err", err)
		}
	})

	transport.OnConnectionStateChange(func(s ConnectionState) {
		l.logger.Debug("connection state changed", "state", s)
		if s == ConnectionFailed || s == ConnectionDisconnected {
			l.logger.Info("transport degraded, attempting ICE restart", "state", s)
			go l.RestartICE()
		}
	})

	return l
}

// RemoteConnID returns the remote connection identity the link talks to.
func (l *PeerLink) RemoteConnID() string { return l.remoteConnID }

// State returns the current negotiation state.
func (l *PeerLink) State() NegotiationState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// ExpectScreen marks that the remote has an active screen share, so the next
// offer reserves a second inbound video line for it.
func (l *PeerLink) ExpectScreen() {
	l.mu.Lock()
	l.expectScreen = true
	l.mu.Unlock()
}

// CreateOffer starts a negotiation round. Calls made while a round is in
// flight are dropped (glare avoidance); both sides may legitimately race to
// renegotiate and the state guard resolves it.
func (l *PeerLink) CreateOffer(iceRestart bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrPeerClosed
	}
	if l.state != StateStable {
		l.logger.Debug("skipping offer, negotiation in flight", "state", l.state)
		return nil
	}

	l.attachOutstandingLocked()
	l.ensurePlaceholdersLocked()

	offer, err := l.transport.CreateOffer(iceRestart)
	if err != nil {
		return newPeerError("create offer", l.remoteConnID, err)
	}
	if err := l.transport.SetLocalDescription(offer); err != nil {
		return newPeerError("set local description", l.remoteConnID, err)
	}
	l.state = StateHaveLocalOffer

	if err := l.signaler.SendOffer(l.remoteConnID, offer); err != nil {
		return newPeerError("send offer", l.remoteConnID, err)
	}
	return nil
}

// HandleOffer applies a remote offer and replies with an answer. Accepted in
// stable and have-remote-offer (legitimate re-offers mid-flow). True glare in
// have-local-offer is resolved deterministically: the side whose connection
// id compares lower wins the race, the other side rolls its offer back and
// answers.
func (l *PeerLink) HandleOffer(offer pion.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrPeerClosed
	}

	switch l.state {
	case StateStable, StateHaveRemoteOffer:
		// proceed
	case StateHaveLocalOffer:
		if l.localConnID < l.remoteConnID {
			l.logger.Info("offer glare, local offer wins, ignoring remote offer")
			return nil
		}
		l.logger.Info("offer glare, yielding to remote offer")
		if err := l.transport.Rollback(); err != nil {
			return newPeerError("rollback local offer", l.remoteConnID, err)
		}
		l.state = StateStable
	default:
		l.logger.Debug("ignoring offer", "state", l.state)
		return nil
	}

	if err := l.transport.SetRemoteDescription(offer); err != nil {
		return newPeerError("set remote description", l.remoteConnID, err)
	}
	l.state = StateHaveRemoteOffer

	// Attach any local tracks not negotiated yet so the answer carries them.
	l.attachOutstandingLocked()

	answer, err := l.transport.CreateAnswer()
	if err != nil {
		return newPeerError("create answer", l.remoteConnID, err)
	}
	if err := l.transport.SetLocalDescription(answer); err != nil {
		return newPeerError("set local description", l.remoteConnID, err)
	}
	l.state = StateStable

	if err := l.signaler.SendAnswer(l.remoteConnID, answer); err != nil {
		return newPeerError("send answer", l.remoteConnID, err)
	}
	return nil
}

// HandleAnswer applies the remote answer to our pending offer. Answers
// arriving in any other state are stale and dropped.
func (l *PeerLink) HandleAnswer(answer pion.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrPeerClosed
	}
	if l.state != StateHaveLocalOffer {
		l.logger.Debug("ignoring answer", "state", l.state)
		return nil
	}

	if err := l.transport.SetRemoteDescription(answer); err != nil {
		return newPeerError("set remote description", l.remoteConnID, err)
	}
	l.state = StateStable
	return nil
}

// HandleICECandidate applies a trickled candidate. ICE is asynchronous to
// offer/answer, so candidates are valid in every state.
func (l *PeerLink) HandleICECandidate(candidate pion.ICECandidateInit) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrPeerClosed
	}
	l.mu.Unlock()

	if err := l.transport.AddICECandidate(candidate); err != nil {
		return newPeerError("add ICE candidate", l.remoteConnID, err)
	}
	return nil
}

// RestartICE recovers a degraded transport in place with an ICE-restart
// offer. Goes through the same stable gate as any other offer.
func (l *PeerLink) RestartICE() {
	if err := l.CreateOffer(true); err != nil {
		l.logger.Warn("ICE restart offer failed", "err", err)
	}
}

// AttachTrack attaches or updates a camera/microphone track. It reports
// whether a new sender was added, which is what requires renegotiation; a
// track swap on an existing sender does not.
func (l *PeerLink) AttachTrack(t *LocalTrack) (added bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false, ErrPeerClosed
	}
	return l.attachTrackLocked(t)
}

func (l *PeerLink) attachTrackLocked(t *LocalTrack) (bool, error) {
	if existing, ok := l.senders[t.Kind()]; ok {
		if existing.Track() == t {
			return false, nil
		}
		if err := existing.ReplaceTrack(t); err != nil {
			return false, newPeerError("replace track", l.remoteConnID, err)
		}
		return false, nil
	}

	sender, err := l.transport.AddTrack(t)
	if err != nil {
		return false, newPeerError("add track", l.remoteConnID, err)
	}
	l.senders[t.Kind()] = sender
	return true, nil
}

// AttachScreen adds the screen capture as an independent outbound sender,
// never merged with the camera sender.
func (l *PeerLink) AttachScreen(t *LocalTrack) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrPeerClosed
	}
	if l.screenSender != nil {
		return nil
	}
	sender, err := l.transport.AddTrack(t)
	if err != nil {
		return newPeerError("add screen track", l.remoteConnID, err)
	}
	l.screenSender = sender
	return nil
}

// DetachScreen removes the screen sender after the share ends.
func (l *PeerLink) DetachScreen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.screenSender == nil {
		return nil
	}
	sender := l.screenSender
	l.screenSender = nil
	if err := l.transport.RemoveTrack(sender); err != nil {
		return newPeerError("remove screen track", l.remoteConnID, err)
	}
	return nil
}

// SenderCount returns the number of camera/microphone senders of the given
// kind. Exactly one per kind must persist across enable toggles.
func (l *PeerLink) SenderCount(kind TrackKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.senders[kind]; ok {
		return 1
	}
	return 0
}

// HasScreenSender reports whether a screen share is currently outbound.
func (l *PeerLink) HasScreenSender() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.screenSender != nil
}

// attachOutstandingLocked attaches local tracks the link is not sending yet:
// camera/microphone via their per-kind senders, the screen capture via its
// own sender.
func (l *PeerLink) attachOutstandingLocked() {
	for _, t := range l.tracks.LocalTracks() {
		if _, err := l.attachTrackLocked(t); err != nil {
			l.logger.Warn("failed to attach local track", "kind", t.Kind(), "err", err)
		}
	}

	if screen := l.tracks.ScreenTrack(); screen != nil && l.screenSender == nil {
		sender, err := l.transport.AddTrack(screen)
		if err != nil {
			l.logger.Warn("failed to attach screen track", "err", err)
			return
		}
		l.screenSender = sender
	}
}

// ensurePlaceholdersLocked adds receive-intent media lines so the offer can
// carry inbound media even with nothing to send: one audio and one video
// placeholder when no local tracks exist, plus an extra video line when the
// remote is known to be screen-sharing.
func (l *PeerLink) ensurePlaceholdersLocked() {
	if len(l.senders) == 0 && !l.recvonlyAdded {
		for _, kind := range []TrackKind{TrackAudio, TrackVideo} {
			if err := l.transport.AddRecvOnlyTransceiver(kind); err != nil {
				l.logger.Warn("failed to add recvonly transceiver", "kind", kind, "err", err)
			}
		}
		l.recvonlyAdded = true
	}

	if l.expectScreen && !l.screenRecvAdded && l.screenSender == nil {
		if err := l.transport.AddRecvOnlyTransceiver(TrackVideo); err != nil {
			l.logger.Warn("failed to add screen recvonly transceiver", "err", err)
		}
		l.screenRecvAdded = true
	}
}

// Close tears the link down: the transport closes synchronously and every
// later operation is a no-op.
func (l *PeerLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.senders = make(map[TrackKind]Sender)
	l.screenSender = nil
	return l.transport.Close()
}
