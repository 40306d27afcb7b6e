package webrtc

import (
	"sync"
	"testing"

	"github.com/NickNameYouTuber/NIMeet/internal/protocol"
)

type engineHarness struct {
	engine   *Engine
	signaler *fakeSignaler
	devices  *fakeDevices
	media    *MediaSession

	mu         sync.Mutex
	transports []*fakeTransport
}

func newEngineHarness(c MediaConstraints) *engineHarness {
	h := &engineHarness{
		signaler: &fakeSignaler{},
		devices:  &fakeDevices{},
	}
	h.media = NewMediaSession(h.devices, nil)
	if c.Audio || c.Video {
		h.media.Acquire(c)
	}

	factory := func() (Transport, error) {
		tr := newFakeTransport()
		h.mu.Lock()
		h.transports = append(h.transports, tr)
		h.mu.Unlock()
		return tr, nil
	}

	h.engine = NewEngine(h.signaler, factory, h.media, "alice", nil)
	h.engine.HandleConnected("me")
	return h
}

func (h *engineHarness) transport(i int) *fakeTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transports[i]
}

func (h *engineHarness) transportCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.transports)
}

func part(connID, username string) protocol.Participant {
	return protocol.Participant{
		ConnectionID: connID,
		UserID:       "user-" + connID,
		Username:     username,
		MediaState:   protocol.DefaultMediaState(),
	}
}

func TestNewcomerGetsExactlyOneOffer(t *testing.T) {
	h := newEngineHarness(MediaConstraints{})

	h.engine.HandleUserJoined(part("b", "bob"))

	if got := h.transportCount(); got != 1 {
		t.Fatalf("transports = %d, want 1", got)
	}
	if got := h.signaler.offerCount(); got != 1 {
		t.Fatalf("offers = %d, want 1", got)
	}
	if h.signaler.offers[0].target != "b" {
		t.Errorf("offer target = %q, want b", h.signaler.offers[0].target)
	}

	// Duplicate join notification must not re-offer.
	h.engine.HandleUserJoined(part("b", "bob"))
	if got := h.signaler.offerCount(); got != 1 {
		t.Errorf("offers after duplicate = %d, want 1", got)
	}
}

func TestRosterSnapshotPreparesLinksWithoutOffering(t *testing.T) {
	h := newEngineHarness(MediaConstraints{})

	var roster []protocol.Participant
	h.engine.OnRosterChange(func(parts []protocol.Participant) { roster = parts })

	h.engine.HandleExistingParticipants([]protocol.Participant{
		part("b", "bob"),
		part("c", "carol"),
	})

	if got := h.transportCount(); got != 2 {
		t.Errorf("transports = %d, want 2", got)
	}
	if got := h.signaler.offerCount(); got != 0 {
		t.Errorf("offers = %d, want 0; existing members offer to us", got)
	}
	if len(roster) != 2 || roster[0].ConnectionID != "b" || roster[1].ConnectionID != "c" {
		t.Errorf("roster = %v, want [b c]", roster)
	}
}

func TestInboundOfferAnswered(t *testing.T) {
	h := newEngineHarness(MediaConstraints{})

	h.engine.HandleRemoteOffer("b", remoteOffer("o1"))

	if got := h.transportCount(); got != 1 {
		t.Fatalf("transports = %d, want 1", got)
	}
	if got := h.signaler.answerCount(); got != 1 {
		t.Fatalf("answers = %d, want 1", got)
	}
	if h.signaler.answers[0].target != "b" {
		t.Errorf("answer target = %q, want b", h.signaler.answers[0].target)
	}
}

func TestRemoteTrackClassification(t *testing.T) {
	h := newEngineHarness(MediaConstraints{})

	var cameraFrom, screenFrom string
	h.engine.OnRemoteCameraStream(func(connID string, s *RemoteStream) { cameraFrom = connID })
	h.engine.OnRemoteScreenStream(func(connID string, s *RemoteStream) { screenFrom = connID })

	h.engine.HandleExistingParticipants([]protocol.Participant{
		{ConnectionID: "b", UserID: "u-b", Username: "bob", ScreenStreamID: "scr-42",
			MediaState: protocol.MediaState{Camera: true, Microphone: true, Screen: true}},
	})
	tr := h.transport(0)

	tr.onTrack(RemoteTrack{ID: "a1", StreamID: "cam-1", Kind: TrackAudio, StreamAudioCount: 1})
	if cameraFrom != "b" {
		t.Fatalf("audio did not reach camera callback, got %q", cameraFrom)
	}

	tr.onTrack(RemoteTrack{ID: "v1", StreamID: "cam-1", Kind: TrackVideo, StreamAudioCount: 1, StreamVideoCount: 1})
	if got := h.engine.RemoteCameraStream("b"); got == nil || len(got.Tracks) != 2 {
		t.Fatalf("camera aggregate = %+v, want 2 tracks", got)
	}

	// The announced stream id wins regardless of prefix.
	tr.onTrack(RemoteTrack{ID: "v2", StreamID: "scr-42", Kind: TrackVideo, StreamVideoCount: 1})
	if screenFrom != "b" {
		t.Fatalf("announced screen stream not classified, got %q", screenFrom)
	}
	if got := h.engine.RemoteScreenStream("b"); got == nil || got.ID != "scr-42" {
		t.Errorf("screen aggregate = %+v, want id scr-42", got)
	}
}

func TestScreenShareStoppedClearsAggregate(t *testing.T) {
	h := newEngineHarness(MediaConstraints{})

	var gotNil bool
	h.engine.OnRemoteScreenStream(func(connID string, s *RemoteStream) {
		if s == nil {
			gotNil = true
		}
	})

	h.engine.HandleRemoteOffer("b", remoteOffer("o1"))
	h.engine.HandleScreenShareStarted("b", "scr-1")
	h.transport(0).onTrack(RemoteTrack{ID: "v1", StreamID: "scr-1", Kind: TrackVideo, StreamVideoCount: 1})

	h.engine.HandleScreenShareStopped("b")
	if !gotNil {
		t.Error("stop must fire the screen callback with a nil stream")
	}
	if h.engine.RemoteScreenStream("b") != nil {
		t.Error("screen aggregate not cleared")
	}
}

func TestEvictionClosesEverything(t *testing.T) {
	h := newEngineHarness(MediaConstraints{})

	evicted := false
	h.engine.OnEvicted(func() { evicted = true })

	h.engine.HandleUserJoined(part("b", "bob"))
	h.engine.HandleUserLeft("me")

	if !evicted {
		t.Fatal("eviction callback not fired")
	}
	if !h.transport(0).closed {
		t.Error("peer transport left open after eviction")
	}
}

func TestUserLeftTearsDownPeer(t *testing.T) {
	h := newEngineHarness(MediaConstraints{})

	var removed string
	h.engine.OnPeerRemoved(func(connID string) { removed = connID })

	h.engine.HandleUserJoined(part("b", "bob"))
	h.engine.HandleUserLeft("b")

	if removed != "b" {
		t.Errorf("removed = %q, want b", removed)
	}
	if !h.transport(0).closed {
		t.Error("transport not closed")
	}
	if len(h.engine.Roster()) != 0 {
		t.Error("roster not emptied")
	}
}

func TestScreenShareFlow(t *testing.T) {
	h := newEngineHarness(DefaultConstraints())

	h.engine.HandleUserJoined(part("b", "bob"))
	h.engine.HandleRemoteAnswer("b", remoteAnswer("a1"))

	streamID, err := h.engine.StartScreenShare()
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(h.signaler.announced) != 1 || h.signaler.announced[0] != streamID {
		t.Fatalf("announced = %v, want [%s]", h.signaler.announced, streamID)
	}
	// The announcement carries the id receivers will see on the wire.
	if got := h.media.ScreenTrack().StreamID(); got != streamID {
		t.Errorf("announced id %q != outbound stream id %q", streamID, got)
	}
	if !h.engine.links["b"].HasScreenSender() {
		t.Error("screen sender missing on the peer link")
	}
	if got := h.signaler.offerCount(); got != 2 {
		t.Errorf("offers = %d, want renegotiation after attach", got)
	}

	h.engine.HandleRemoteAnswer("b", remoteAnswer("a2"))
	if err := h.engine.StopScreenShare(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if h.signaler.retracted != 1 {
		t.Errorf("retractions = %d, want 1", h.signaler.retracted)
	}
	if h.transport(0).removed != 1 {
		t.Errorf("RemoveTrack calls = %d, want 1", h.transport(0).removed)
	}

	// Stopping again, including via the track's OnEnded path, is a no-op.
	if err := h.engine.StopScreenShare(); err != nil {
		t.Fatalf("redundant stop: %v", err)
	}
	if h.signaler.retracted != 1 {
		t.Errorf("retractions after redundant stop = %d, want 1", h.signaler.retracted)
	}
}

func TestToggleCameraLazyAttach(t *testing.T) {
	h := newEngineHarness(MediaConstraints{})

	h.engine.HandleUserJoined(part("b", "bob"))
	h.engine.HandleRemoteAnswer("b", remoteAnswer("a1"))

	enabled, err := h.engine.ToggleCamera()
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !enabled {
		t.Error("first toggle should enable the camera")
	}
	if got := h.signaler.offerCount(); got != 2 {
		t.Errorf("offers = %d, want renegotiation for the new sender", got)
	}

	h.engine.HandleRemoteAnswer("b", remoteAnswer("a2"))

	// Second toggle flips the existing track; no new sender, no offer.
	enabled, err = h.engine.ToggleCamera()
	if err != nil {
		t.Fatalf("second toggle: %v", err)
	}
	if enabled {
		t.Error("second toggle should disable")
	}
	if got := h.signaler.offerCount(); got != 2 {
		t.Errorf("offers after plain toggle = %d, want still 2", got)
	}
	if got := len(h.transport(0).added); got != 1 {
		t.Errorf("senders added = %d, want 1", got)
	}
}

func TestToggleDeniedDevice(t *testing.T) {
	h := newEngineHarness(MediaConstraints{})
	h.devices.denyUser = true

	if _, err := h.engine.ToggleCamera(); err == nil {
		t.Error("expected an error when the device is denied")
	}
}

func TestChatRoundTrip(t *testing.T) {
	h := newEngineHarness(MediaConstraints{})

	var received ChatMessage
	h.engine.OnChatMessage(func(msg ChatMessage) { received = msg })

	h.engine.HandleUserJoined(part("b", "bob"))

	tr := h.transport(0)
	if len(tr.channels) != 1 || tr.channels[0].label != "chat" {
		t.Fatalf("chat channel not created, channels = %v", tr.channels)
	}
	dc := tr.channels[0]

	h.engine.SendChat("hello")
	if len(dc.sent) != 1 {
		t.Fatalf("sent frames = %d, want 1", len(dc.sent))
	}
	msg, err := DecodeChatMessage(dc.sent[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Sender != "alice" || msg.Text != "hello" {
		t.Errorf("decoded = %+v", msg)
	}

	inbound, err := EncodeChatMessage(ChatMessage{Sender: "bob", Text: "hi back"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	dc.onMessage(inbound)
	if received.Sender != "bob" || received.Text != "hi back" {
		t.Errorf("received = %+v", received)
	}
}

func TestResetNegotiationAllowsReoffer(t *testing.T) {
	h := newEngineHarness(MediaConstraints{})

	h.engine.HandleUserJoined(part("b", "bob"))
	h.engine.HandleRemoteAnswer("b", remoteAnswer("a1"))
	if got := h.signaler.offerCount(); got != 1 {
		t.Fatalf("offers = %d, want 1", got)
	}

	h.engine.ResetNegotiation()
	h.engine.HandleUserJoined(part("b", "bob"))
	if got := h.signaler.offerCount(); got != 2 {
		t.Errorf("offers after reset = %d, want 2", got)
	}
}

func TestOfferRetriedAfterTransportFailure(t *testing.T) {
	signaler := &fakeSignaler{}
	media := NewMediaSession(&fakeDevices{}, nil)
	media.Acquire(DefaultConstraints())

	fail := true
	factory := func() (Transport, error) {
		if fail {
			fail = false
			return nil, ErrNoTransport
		}
		return newFakeTransport(), nil
	}
	engine := NewEngine(signaler, factory, media, "alice", nil)
	engine.HandleConnected("me")

	// The first user-joined dies on transport construction; the peer must
	// not be marked as already offered.
	engine.HandleUserJoined(part("b", "bob"))
	if got := signaler.offerCount(); got != 0 {
		t.Fatalf("offers after transport failure = %d, want 0", got)
	}

	engine.HandleUserJoined(part("b", "bob"))
	if got := signaler.offerCount(); got != 1 {
		t.Fatalf("offers after retry = %d, want 1", got)
	}
}
