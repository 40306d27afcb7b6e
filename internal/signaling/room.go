package signaling

import "github.com/NickNameYouTuber/NIMeet/internal/protocol"

// Room groups the participants of one call. Rooms are created when the first
// participant joins and deleted when the last one leaves; nothing about them
// is persisted.
type Room struct {
	// ID is the room identifier, validated upstream by the REST layer.
	ID string

	// Participants is keyed by connection id.
	Participants map[string]*Participant
}

// NewRoom creates an empty room.
func NewRoom(id string) *Room {
	return &Room{
		ID:           id,
		Participants: make(map[string]*Participant),
	}
}

// Empty reports whether the room has no participants left.
func (r *Room) Empty() bool {
	return len(r.Participants) == 0
}

// FindByUserID returns the participant currently holding the given stable
// user identity, or nil. Used for stale-session eviction on join.
func (r *Room) FindByUserID(userID string) *Participant {
	for _, p := range r.Participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// Roster returns the wire representation of every participant except the one
// with the excluded connection id.
func (r *Room) Roster(excludeConnID string) []protocol.Participant {
	roster := make([]protocol.Participant, 0, len(r.Participants))
	for connID, p := range r.Participants {
		if connID == excludeConnID {
			continue
		}
		roster = append(roster, p.Wire())
	}
	return roster
}

// Participant is the server-side record of one room member.
type Participant struct {
	Client         *Client
	UserID         string
	Username       string
	Media          protocol.MediaState
	ScreenStreamID string
}

// Wire converts the record to its protocol representation.
func (p *Participant) Wire() protocol.Participant {
	return protocol.Participant{
		ConnectionID:   p.Client.ID,
		UserID:         p.UserID,
		Username:       p.Username,
		MediaState:     p.Media,
		ScreenStreamID: p.ScreenStreamID,
	}
}
