package webrtc

import "strings"

// StreamClass is the result of inbound video classification.
type StreamClass int

const (
	ClassCamera StreamClass = iota
	ClassScreen
)

func (c StreamClass) String() string {
	if c == ClassScreen {
		return "screen"
	}
	return "camera"
}

// screenLabelHints are substrings of track labels that identify a display
// capture across browsers.
var screenLabelHints = []string{"screen", "window", "monitor"}

// ClassifyVideo decides whether an inbound video track carries a screen
// share or a camera feed.
//
// The checks run in precedence order; the first match wins:
//
//  1. the carrying stream id equals the screen-stream id the peer announced
//     over the relay — the authoritative signal, always checked first;
//  2. the stream id carries the screen prefix, or the track label names a
//     screen/window/monitor surface;
//  3. the platform reports a display surface on the track;
//  4. structural fallback: the stream holds exactly one video track and no
//     audio, and a camera stream from this peer already exists.
//
// The structural fallback is heuristic and best-effort only: track and
// stream metadata is not reliable across browsers, which is why the explicit
// announcement channel exists. Everything else is classified as camera.
//
// The returned reason names the matching rule, for logs and tests.
func ClassifyVideo(t RemoteTrack, announcedScreenID string, cameraPresent bool) (StreamClass, string) {
	if announcedScreenID != "" && t.StreamID == announcedScreenID {
		return ClassScreen, "announced-id"
	}

	if strings.HasPrefix(t.StreamID, ScreenStreamPrefix) {
		return ClassScreen, "stream-prefix"
	}
	label := strings.ToLower(t.Label)
	for _, hint := range screenLabelHints {
		if strings.Contains(label, hint) {
			return ClassScreen, "label-hint"
		}
	}

	if t.DisplaySurface {
		return ClassScreen, "display-surface"
	}

	if t.StreamVideoCount == 1 && t.StreamAudioCount == 0 && cameraPresent {
		return ClassScreen, "structural-fallback"
	}

	return ClassCamera, "default"
}
