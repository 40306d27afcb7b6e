package webrtc

import (
	"sync"
	"sync/atomic"

	pion "github.com/pion/webrtc/v4"
)

// TrackKind distinguishes audio from video tracks.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// ScreenStreamPrefix marks stream ids that carry a screen capture. Receivers
// use it as one of the classification hints.
const ScreenStreamPrefix = "screen-"

// LocalTrack is one local capture track. A single LocalTrack is shared by
// reference across every peer link's outbound sender, so flipping Enabled is
// visible to all peers at once.
type LocalTrack struct {
	id       string
	streamID string
	label    string
	kind     TrackKind

	enabled atomic.Bool

	// source is the pion track actually attached to peer connections.
	// Nil for tracks built in tests.
	source pion.TrackLocal

	mu       sync.Mutex
	onEnded  func()
	stopped  bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewLocalTrack builds a track around a pion source. source may be nil in
// tests that never touch a real transport.
func NewLocalTrack(kind TrackKind, id, streamID, label string, source pion.TrackLocal) *LocalTrack {
	t := &LocalTrack{
		id:       id,
		streamID: streamID,
		label:    label,
		kind:     kind,
		source:   source,
		stopCh:   make(chan struct{}),
	}
	t.enabled.Store(true)
	return t
}

func (t *LocalTrack) ID() string       { return t.id }
func (t *LocalTrack) StreamID() string { return t.streamID }
func (t *LocalTrack) Label() string    { return t.label }
func (t *LocalTrack) Kind() TrackKind  { return t.kind }

// Source returns the underlying pion track, nil for test tracks.
func (t *LocalTrack) Source() pion.TrackLocal { return t.source }

// Enabled reports whether the track is currently producing media.
func (t *LocalTrack) Enabled() bool { return t.enabled.Load() }

// SetEnabled flips the mute state. The writer goroutine feeding the source
// checks this flag, so the change reaches every peer simultaneously.
func (t *LocalTrack) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

// OnEnded registers a callback fired when the track stops, either by Stop or
// by the capture source going away.
func (t *LocalTrack) OnEnded(fn func()) {
	t.mu.Lock()
	t.onEnded = fn
	t.mu.Unlock()
}

// Stopped reports whether the track has ended.
func (t *LocalTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Done returns a channel closed when the track stops. Sample generators
// select on it.
func (t *LocalTrack) Done() <-chan struct{} { return t.stopCh }

// Stop ends the track and fires the OnEnded callback once.
func (t *LocalTrack) Stop() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.stopped = true
		fn := t.onEnded
		t.onEnded = nil
		t.mu.Unlock()
		close(t.stopCh)
		if fn != nil {
			fn()
		}
	})
}

// MediaStream groups local tracks under one stream identity, mirroring the
// browser MediaStream the original capture model is built around.
type MediaStream struct {
	id     string
	mu     sync.Mutex
	tracks []*LocalTrack
}

func NewMediaStream(id string) *MediaStream {
	return &MediaStream{id: id}
}

func (s *MediaStream) ID() string { return s.id }

func (s *MediaStream) AddTrack(t *LocalTrack) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}

// Tracks returns a snapshot of the stream's live tracks.
func (s *MediaStream) Tracks() []*LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*LocalTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		if !t.Stopped() {
			out = append(out, t)
		}
	}
	return out
}

// TrackOfKind returns the stream's live track of the given kind, or nil.
func (s *MediaStream) TrackOfKind(kind TrackKind) *LocalTrack {
	for _, t := range s.Tracks() {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

// Empty reports whether the stream has no live tracks.
func (s *MediaStream) Empty() bool {
	return len(s.Tracks()) == 0
}

// RemoteTrack describes an inbound track as seen by the transport, carrying
// the metadata classification works from. Stream composition counts reflect
// what the transport has observed for the carrying stream so far.
type RemoteTrack struct {
	ID       string
	StreamID string
	Kind     TrackKind
	Label    string

	// DisplaySurface is set when the platform reports the track comes from a
	// screen, window or monitor capture. Not all transports supply it.
	DisplaySurface bool

	// StreamAudioCount and StreamVideoCount are the number of audio and
	// video tracks seen on the carrying stream, including this one.
	StreamAudioCount int
	StreamVideoCount int
}

// RemoteStream aggregates classified inbound tracks from one peer.
type RemoteStream struct {
	ID     string
	Class  StreamClass
	Tracks []RemoteTrack
}

func (s *RemoteStream) addTrack(t RemoteTrack) {
	s.Tracks = append(s.Tracks, t)
}
