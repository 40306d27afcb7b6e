package protocol

import "encoding/json"

// Message is the envelope for all websocket traffic between clients and the
// signaling server. Type selects the payload schema; Payload is left opaque
// until the receiving side decodes it.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message type constants. Client-to-server types come first, then
// server-to-client notifications.
const (
	TypeJoinRoom           = "join-room"
	TypeLeaveRoom          = "leave-room"
	TypeOffer              = "offer"
	TypeAnswer             = "answer"
	TypeICECandidate       = "ice-candidate"
	TypeToggleMedia        = "toggle-media"
	TypeScreenShareStarted = "screen-share-started"
	TypeScreenShareStopped = "screen-share-stopped"

	TypeConnected            = "connected"
	TypeExistingParticipants = "existing-participants"
	TypeUserJoined           = "user-joined"
	TypeUserLeft             = "user-left"
	TypeReceiveOffer         = "receive-offer"
	TypeReceiveAnswer        = "receive-answer"
	TypeReceiveICECandidate  = "receive-ice-candidate"
	TypeMediaToggled         = "media-toggled"
	TypeError                = "error"
)

// MediaType identifies which capture device a toggle refers to.
type MediaType string

const (
	MediaCamera     MediaType = "camera"
	MediaMicrophone MediaType = "microphone"
	MediaScreen     MediaType = "screen"
)

// Valid reports whether t is one of the known media types.
func (t MediaType) Valid() bool {
	switch t {
	case MediaCamera, MediaMicrophone, MediaScreen:
		return true
	}
	return false
}

// MediaState mirrors a participant's device toggles to the rest of the room.
type MediaState struct {
	Camera     bool `json:"camera"`
	Microphone bool `json:"microphone"`
	Screen     bool `json:"screen"`
}

// DefaultMediaState is the state a participant starts with on join.
func DefaultMediaState() MediaState {
	return MediaState{Camera: true, Microphone: true, Screen: false}
}

// Participant is the roster entry the server shares with room members.
// ConnectionID is the ephemeral relay identity; UserID is the stable one.
type Participant struct {
	ConnectionID   string     `json:"connectionId"`
	UserID         string     `json:"userId"`
	Username       string     `json:"username"`
	MediaState     MediaState `json:"mediaState"`
	ScreenStreamID string     `json:"screenStreamId,omitempty"`
}

// ConnectedPayload tells a client the connection id the relay assigned to it.
type ConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
}

// JoinRoomPayload asks the server to admit the sender to a room.
type JoinRoomPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// LeaveRoomPayload asks the server to remove the sender from a room.
type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
}

// RelayPayload carries an opaque negotiation blob (SDP or ICE candidate)
// between two named connections. TargetConnectionID is set on the way in,
// From on the way out; the server never inspects Payload.
type RelayPayload struct {
	TargetConnectionID string          `json:"targetConnectionId,omitempty"`
	From               string          `json:"from,omitempty"`
	Payload            json.RawMessage `json:"payload"`
}

// ExistingParticipantsPayload is the roster snapshot sent to a new member.
type ExistingParticipantsPayload struct {
	Participants []Participant `json:"participants"`
}

// UserJoinedPayload announces a new member to the rest of the room.
type UserJoinedPayload struct {
	Participant Participant `json:"participant"`
}

// UserLeftPayload announces a departure. A client receiving this for its own
// connection id has been evicted by a newer session of the same user.
type UserLeftPayload struct {
	ConnectionID string `json:"connectionId"`
}

// ToggleMediaPayload updates the sender's media state.
type ToggleMediaPayload struct {
	RoomID    string    `json:"roomId"`
	MediaType MediaType `json:"mediaType"`
	Enabled   bool      `json:"enabled"`
}

// MediaToggledPayload mirrors a media state change to the rest of the room.
type MediaToggledPayload struct {
	ConnectionID string    `json:"connectionId"`
	MediaType    MediaType `json:"mediaType"`
	Enabled      bool      `json:"enabled"`
}

// ScreenSharePayload announces (or retracts) a screen-share stream id.
// RoomID is set client-to-server, ConnectionID server-to-client.
type ScreenSharePayload struct {
	RoomID         string `json:"roomId,omitempty"`
	ConnectionID   string `json:"connectionId,omitempty"`
	ScreenStreamID string `json:"screenStreamId,omitempty"`
}

// ErrorPayload carries a server-side rejection (bad join, unknown type).
type ErrorPayload struct {
	Error string `json:"error"`
}

// NewMessage marshals payload into an envelope of the given type.
func NewMessage(msgType string, payload any) (*Message, error) {
	if payload == nil {
		return &Message{Type: msgType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Type: msgType, Payload: raw}, nil
}

// MustMessage is NewMessage for payloads that cannot fail to marshal.
// All protocol payload structs marshal unconditionally.
func MustMessage(msgType string, payload any) *Message {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// Decode unmarshals the envelope payload into v.
func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
