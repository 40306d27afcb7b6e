package webrtc

import (
	"log/slog"
	"sync"
)

// MediaConstraints selects which capture kinds to request.
type MediaConstraints struct {
	Audio bool
	Video bool
}

// DefaultConstraints requests both camera and microphone.
func DefaultConstraints() MediaConstraints {
	return MediaConstraints{Audio: true, Video: true}
}

// MediaDevices is the capture platform the session acquires tracks from.
// Display streams must use the screen stream id prefix so receivers can
// classify them.
type MediaDevices interface {
	GetUserMedia(c MediaConstraints) (*MediaStream, error)
	GetDisplayMedia() (*MediaStream, error)
}

// MediaSession owns the local capture state: the camera/microphone stream
// and an independent screen capture stream. Device denial is not an error
// here — an empty stream is a valid, displayable state and the rest of the
// system treats it as such.
type MediaSession struct {
	logger  *slog.Logger
	devices MediaDevices

	mu     sync.Mutex
	stream *MediaStream
	screen *MediaStream
}

func NewMediaSession(devices MediaDevices, logger *slog.Logger) *MediaSession {
	if logger == nil {
		logger = slog.Default()
	}
	return &MediaSession{
		logger:  logger.With("component", "media"),
		devices: devices,
		stream:  NewMediaStream(""),
	}
}

// Acquire requests camera and microphone. Denial or absence of devices
// degrades to an empty local stream instead of failing the caller.
func (m *MediaSession) Acquire(c MediaConstraints) *MediaStream {
	m.mu.Lock()
	defer m.mu.Unlock()

	stream, err := m.devices.GetUserMedia(c)
	if err != nil {
		m.logger.Warn("local media unavailable, continuing without tracks", "err", err)
		m.stream = NewMediaStream("")
		return m.stream
	}
	m.stream = stream
	return stream
}

// Stream returns the camera/microphone stream, never nil.
func (m *MediaSession) Stream() *MediaStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

// Track returns the live camera or microphone track of the given kind, nil
// when the device was never granted.
func (m *MediaSession) Track(kind TrackKind) *LocalTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream.TrackOfKind(kind)
}

// EnsureTrack lazily acquires a track of the given kind when none exists.
// Reports whether a new track was created.
func (m *MediaSession) EnsureTrack(kind TrackKind) (*LocalTrack, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t := m.stream.TrackOfKind(kind); t != nil {
		return t, false, nil
	}

	c := MediaConstraints{Audio: kind == TrackAudio, Video: kind == TrackVideo}
	acquired, err := m.devices.GetUserMedia(c)
	if err != nil {
		return nil, false, newError("acquire "+string(kind), err)
	}
	t := acquired.TrackOfKind(kind)
	if t == nil {
		return nil, false, newError("acquire "+string(kind), ErrDeviceDenied)
	}
	m.stream.AddTrack(t)
	return t, true, nil
}

// LocalTracks implements TrackProvider.
func (m *MediaSession) LocalTracks() []*LocalTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream.Tracks()
}

// ScreenTrack implements TrackProvider; nil when not sharing.
func (m *MediaSession) ScreenTrack() *LocalTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.screen == nil {
		return nil
	}
	return m.screen.TrackOfKind(TrackVideo)
}

// Sharing reports whether a screen capture is active.
func (m *MediaSession) Sharing() bool {
	return m.ScreenTrack() != nil
}

// StartScreen acquires a display capture stream. The stream is kept separate
// from the camera stream so receivers can tell the two video feeds apart.
func (m *MediaSession) StartScreen() (*LocalTrack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.screen != nil && m.screen.TrackOfKind(TrackVideo) != nil {
		return nil, ErrAlreadySharing
	}

	stream, err := m.devices.GetDisplayMedia()
	if err != nil {
		return nil, newError("acquire display media", err)
	}
	track := stream.TrackOfKind(TrackVideo)
	if track == nil {
		return nil, newError("acquire display media", ErrDeviceDenied)
	}
	m.screen = stream
	return track, nil
}

// StopScreen stops the screen track and releases the stream. Safe to call
// when no share is active.
func (m *MediaSession) StopScreen() {
	m.mu.Lock()
	screen := m.screen
	m.screen = nil
	m.mu.Unlock()

	if screen == nil {
		return
	}
	for _, t := range screen.Tracks() {
		t.Stop()
	}
}

// Close stops every local track.
func (m *MediaSession) Close() {
	m.StopScreen()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.stream.Tracks() {
		t.Stop()
	}
}
