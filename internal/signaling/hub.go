package signaling

import (
	"log/slog"

	"github.com/NickNameYouTuber/NIMeet/internal/protocol"
)

// inboundMessage pairs a decoded envelope with the connection it came from.
type inboundMessage struct {
	client *Client
	msg    *protocol.Message
}

// Hub is the room registry and message relay of the signaling server. All
// room and participant state is owned by the Run loop: handlers run to
// completion one at a time, so no mutation is ever concurrent.
type Hub struct {
	// rooms maps room id to its live participant set.
	rooms map[string]*Room

	// clients maps connection id to its client, for targeted relay.
	clients map[string]*Client

	Register   chan *Client
	Unregister chan *Client
	Inbound    chan *inboundMessage

	logger *slog.Logger
}

// NewHub creates an empty hub. Call Run in its own goroutine before
// registering clients.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		rooms:      make(map[string]*Room),
		clients:    make(map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Inbound:    make(chan *inboundMessage),
		logger:     logger.With("component", "hub"),
	}
}

// Dispatch feeds one client message into the hub loop.
func (h *Hub) Dispatch(c *Client, msg *protocol.Message) {
	h.Inbound <- &inboundMessage{client: c, msg: msg}
}

// Run is the hub's single processing loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.clients[client.ID] = client
			client.enqueue(protocol.MustMessage(protocol.TypeConnected, protocol.ConnectedPayload{
				ConnectionID: client.ID,
			}))
			h.logger.Info("client registered", "connection_id", client.ID)

		case client := <-h.Unregister:
			if _, ok := h.clients[client.ID]; !ok {
				continue
			}
			delete(h.clients, client.ID)
			h.removeFromAllRooms(client)
			close(client.Send)
			h.logger.Info("client unregistered", "connection_id", client.ID)

		case in := <-h.Inbound:
			h.handle(in.client, in.msg)
		}
	}
}

func (h *Hub) handle(client *Client, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeJoinRoom:
		var p protocol.JoinRoomPayload
		if err := msg.Decode(&p); err != nil {
			h.reject(client, "malformed join-room payload")
			return
		}
		h.handleJoin(client, p)

	case protocol.TypeLeaveRoom:
		var p protocol.LeaveRoomPayload
		if err := msg.Decode(&p); err != nil {
			return
		}
		h.handleLeave(client, p.RoomID)

	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate:
		var p protocol.RelayPayload
		if err := msg.Decode(&p); err != nil {
			return
		}
		h.relay(client, msg.Type, p)

	case protocol.TypeToggleMedia:
		var p protocol.ToggleMediaPayload
		if err := msg.Decode(&p); err != nil {
			return
		}
		h.handleToggleMedia(client, p)

	case protocol.TypeScreenShareStarted:
		var p protocol.ScreenSharePayload
		if err := msg.Decode(&p); err != nil {
			return
		}
		h.handleScreenShare(client, p.RoomID, p.ScreenStreamID, true)

	case protocol.TypeScreenShareStopped:
		var p protocol.ScreenSharePayload
		if err := msg.Decode(&p); err != nil {
			return
		}
		h.handleScreenShare(client, p.RoomID, "", false)

	default:
		h.logger.Warn("unknown message type", "type", msg.Type, "connection_id", client.ID)
	}
}

// handleJoin admits a connection into a room. If the same stable user
// identity already holds a live connection in the room, that session is
// evicted first: the room sees a user-left for the old connection, the old
// connection is told about its own departure and disconnected.
func (h *Hub) handleJoin(client *Client, p protocol.JoinRoomPayload) {
	if p.RoomID == "" || p.UserID == "" {
		h.reject(client, "roomId and userId are required")
		return
	}

	room, ok := h.rooms[p.RoomID]
	if !ok {
		room = NewRoom(p.RoomID)
		h.rooms[p.RoomID] = room
		h.logger.Info("room created", "room_id", p.RoomID)
	}

	if stale := room.FindByUserID(p.UserID); stale != nil && stale.Client.ID != client.ID {
		h.logger.Info("evicting stale session",
			"room_id", p.RoomID,
			"user_id", p.UserID,
			"old_connection_id", stale.Client.ID,
		)
		delete(room.Participants, stale.Client.ID)
		left := protocol.MustMessage(protocol.TypeUserLeft, protocol.UserLeftPayload{
			ConnectionID: stale.Client.ID,
		})
		h.broadcast(room, "", left)
		// The evicted client learns about its own departure before the
		// socket drops, so it can stop its peer links cleanly. Closing the
		// socket here would race the write pump and lose the notice, so the
		// notice is queued and the Send channel closed instead: the pump
		// drains the queue and sends the close frame itself. The client
		// leaves the registry now so the pump's unregister is a no-op.
		delete(h.clients, stale.Client.ID)
		stale.Client.enqueue(left)
		close(stale.Client.Send)
		// The connection's records in any other rooms leave normally.
		h.removeFromAllRooms(stale.Client)
	}

	// Roster snapshot goes out before the new record is added, so the new
	// member never sees itself in existing-participants.
	client.enqueue(protocol.MustMessage(protocol.TypeExistingParticipants, protocol.ExistingParticipantsPayload{
		Participants: room.Roster(client.ID),
	}))

	// Replay active screen-share announcements so the joiner can predict the
	// extra inbound video line from each sharing member.
	for connID, member := range room.Participants {
		if connID == client.ID || member.ScreenStreamID == "" {
			continue
		}
		client.enqueue(protocol.MustMessage(protocol.TypeScreenShareStarted, protocol.ScreenSharePayload{
			ConnectionID:   connID,
			ScreenStreamID: member.ScreenStreamID,
		}))
	}

	participant := &Participant{
		Client:   client,
		UserID:   p.UserID,
		Username: p.Username,
		Media:    protocol.DefaultMediaState(),
	}
	room.Participants[client.ID] = participant

	h.broadcast(room, client.ID, protocol.MustMessage(protocol.TypeUserJoined, protocol.UserJoinedPayload{
		Participant: participant.Wire(),
	}))

	h.logger.Info("participant joined",
		"room_id", p.RoomID,
		"connection_id", client.ID,
		"username", p.Username,
		"room_size", len(room.Participants),
	)
}

// relay forwards an opaque negotiation payload to its target connection. A
// missing target is a normal race with leave and is only logged.
func (h *Hub) relay(from *Client, msgType string, p protocol.RelayPayload) {
	target, ok := h.clients[p.TargetConnectionID]
	if !ok {
		h.logger.Debug("relay target gone",
			"type", msgType,
			"from", from.ID,
			"target", p.TargetConnectionID,
		)
		return
	}

	var outType string
	switch msgType {
	case protocol.TypeOffer:
		outType = protocol.TypeReceiveOffer
	case protocol.TypeAnswer:
		outType = protocol.TypeReceiveAnswer
	case protocol.TypeICECandidate:
		outType = protocol.TypeReceiveICECandidate
	}

	target.enqueue(protocol.MustMessage(outType, protocol.RelayPayload{
		From:    from.ID,
		Payload: p.Payload,
	}))
}

func (h *Hub) handleToggleMedia(client *Client, p protocol.ToggleMediaPayload) {
	if !p.MediaType.Valid() {
		return
	}
	room, participant := h.lookup(p.RoomID, client.ID)
	if participant == nil {
		return
	}

	switch p.MediaType {
	case protocol.MediaCamera:
		participant.Media.Camera = p.Enabled
	case protocol.MediaMicrophone:
		participant.Media.Microphone = p.Enabled
	case protocol.MediaScreen:
		participant.Media.Screen = p.Enabled
	}

	h.broadcast(room, client.ID, protocol.MustMessage(protocol.TypeMediaToggled, protocol.MediaToggledPayload{
		ConnectionID: client.ID,
		MediaType:    p.MediaType,
		Enabled:      p.Enabled,
	}))
}

func (h *Hub) handleScreenShare(client *Client, roomID, streamID string, started bool) {
	room, participant := h.lookup(roomID, client.ID)
	if participant == nil {
		return
	}

	msgType := protocol.TypeScreenShareStopped
	if started {
		msgType = protocol.TypeScreenShareStarted
	}
	participant.ScreenStreamID = streamID

	h.broadcast(room, client.ID, protocol.MustMessage(msgType, protocol.ScreenSharePayload{
		ConnectionID:   client.ID,
		ScreenStreamID: streamID,
	}))
}

func (h *Hub) handleLeave(client *Client, roomID string) {
	room, ok := h.rooms[roomID]
	if !ok {
		return
	}
	h.removeFromRoom(room, client)
}

// removeFromAllRooms handles a transport disconnect, which counts as a leave
// for every room the connection belongs to.
func (h *Hub) removeFromAllRooms(client *Client) {
	for _, room := range h.rooms {
		if _, ok := room.Participants[client.ID]; ok {
			h.removeFromRoom(room, client)
		}
	}
}

func (h *Hub) removeFromRoom(room *Room, client *Client) {
	if _, ok := room.Participants[client.ID]; !ok {
		return
	}
	delete(room.Participants, client.ID)

	h.broadcast(room, "", protocol.MustMessage(protocol.TypeUserLeft, protocol.UserLeftPayload{
		ConnectionID: client.ID,
	}))

	if room.Empty() {
		delete(h.rooms, room.ID)
		h.logger.Info("room deleted", "room_id", room.ID)
	} else {
		h.logger.Info("participant left",
			"room_id", room.ID,
			"connection_id", client.ID,
			"room_size", len(room.Participants),
		)
	}
}

// broadcast queues msg for every room member except excludeConnID.
func (h *Hub) broadcast(room *Room, excludeConnID string, msg *protocol.Message) {
	for connID, p := range room.Participants {
		if connID == excludeConnID {
			continue
		}
		p.Client.enqueue(msg)
	}
}

// lookup resolves the room and the caller's participant record, or nils.
func (h *Hub) lookup(roomID, connID string) (*Room, *Participant) {
	room, ok := h.rooms[roomID]
	if !ok {
		return nil, nil
	}
	return room, room.Participants[connID]
}

func (h *Hub) reject(client *Client, reason string) {
	client.enqueue(protocol.MustMessage(protocol.TypeError, protocol.ErrorPayload{Error: reason}))
}
