package webrtc

import (
	pion "github.com/pion/webrtc/v4"
)

// ConnectionState is the transport-level connection state, independent of the
// negotiation state machine.
type ConnectionState int

const (
	ConnectionNew ConnectionState = iota
	ConnectionConnecting
	ConnectionConnected
	ConnectionDisconnected
	ConnectionFailed
	ConnectionClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionNew:
		return "new"
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionFailed:
		return "failed"
	case ConnectionClosed:
		return "closed"
	}
	return "unknown"
}

// Sender is one outbound track attachment on a transport.
type Sender interface {
	// Track is the local track currently feeding this sender.
	Track() *LocalTrack

	// ReplaceTrack swaps the outbound track without renegotiation.
	ReplaceTrack(t *LocalTrack) error
}

// DataChannel is a bidirectional message channel negotiated alongside media.
type DataChannel interface {
	Label() string
	Send(data []byte) error
	OnOpen(fn func())
	OnMessage(fn func(data []byte))
	Close() error
}

// Transport is the peer-to-peer negotiation primitive a PeerLink drives. The
// production implementation wraps a pion PeerConnection; tests substitute a
// fake so the state machine runs without a live transport.
type Transport interface {
	// CreateOffer builds a local offer reflecting the current senders and
	// transceivers. iceRestart requests new ICE credentials for in-place
	// recovery of a failed link.
	CreateOffer(iceRestart bool) (pion.SessionDescription, error)
	CreateAnswer() (pion.SessionDescription, error)
	SetLocalDescription(desc pion.SessionDescription) error
	SetRemoteDescription(desc pion.SessionDescription) error

	// Rollback discards the pending local offer, returning the underlying
	// session to stable. Used by the glare tie-break.
	Rollback() error

	AddICECandidate(candidate pion.ICECandidateInit) error

	AddTrack(t *LocalTrack) (Sender, error)
	RemoveTrack(s Sender) error

	// AddRecvOnlyTransceiver adds a receive-intent media line of the given
	// kind so the peer's media can be received with no outbound track.
	AddRecvOnlyTransceiver(kind TrackKind) error

	CreateDataChannel(label string) (DataChannel, error)

	OnTrack(fn func(t RemoteTrack))
	OnICECandidate(fn func(c pion.ICECandidateInit))
	OnConnectionStateChange(fn func(s ConnectionState))
	OnDataChannel(fn func(dc DataChannel))

	Close() error
}

// TransportFactory builds a fresh transport for a new peer link.
type TransportFactory func() (Transport, error)

// Signaler delivers negotiation payloads and screen-share announcements to
// the relay. The signaling client implements it.
type Signaler interface {
	SendOffer(targetConnID string, sdp pion.SessionDescription) error
	SendAnswer(targetConnID string, sdp pion.SessionDescription) error
	SendICECandidate(targetConnID string, candidate pion.ICECandidateInit) error

	AnnounceScreenShare(streamID string) error
	RetractScreenShare() error
}
