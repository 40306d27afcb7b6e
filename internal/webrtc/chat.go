package webrtc

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// chatChannelLabel is the data channel every peer link negotiates for
// in-call chat.
const chatChannelLabel = "chat"

// ChatMessage is one in-call chat line, exchanged directly between peers
// over a data channel, never through the relay.
type ChatMessage struct {
	Sender string    `msgpack:"sender"`
	Text   string    `msgpack:"text"`
	SentAt time.Time `msgpack:"sent_at"`
}

// EncodeChatMessage serializes a chat message for the wire.
func EncodeChatMessage(msg ChatMessage) ([]byte, error) {
	data, err := msgpack.Marshal(&msg)
	if err != nil {
		return nil, newError("encode chat message", err)
	}
	return data, nil
}

// DecodeChatMessage parses a chat message off the wire.
func DecodeChatMessage(data []byte) (ChatMessage, error) {
	var msg ChatMessage
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return ChatMessage{}, newError("decode chat message", err)
	}
	return msg, nil
}
