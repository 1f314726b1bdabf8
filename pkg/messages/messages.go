package messages

import (
	"encoding/json"

	"github.com/cbodonnell/rally/pkg/sim"
)

// Message types
const (
	// Client -> server
	MessageTypeClientInput = "input"
	MessageTypeClientPing  = "ping"

	// Server -> client
	MessageTypeServerPong                 = "pong"
	MessageTypeServerState                = "state"
	MessageTypeServerReconnected          = "reconnected"
	MessageTypeServerResumed              = "resumed"
	MessageTypeServerOpponentDisconnected = "opponent_disconnected"
	MessageTypeServerOpponentLeft         = "opponent_left_permanently"
	MessageTypeServerYouWin               = "you_win"
	MessageTypeServerYouLose              = "you_lose"
	MessageTypeServerEnded                = "ended"
	MessageTypeServerError                = "error"
)

// Message represents a generic message for serialization/deserialization
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New builds a message of the given type with a marshaled payload.
// A nil payload produces a message with no payload.
func New(msgType string, payload interface{}) (*Message, error) {
	msg := &Message{Type: msgType}
	if payload == nil {
		return msg, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	msg.Payload = b
	return msg, nil
}

// ClientInput is a movement command from a participant.
type ClientInput struct {
	Direction int `json:"direction"`
}

// ServerState carries the simulation snapshot broadcast each tick.
type ServerState struct {
	State sim.Snapshot `json:"state"`
}

// ServerReconnected carries the full snapshot sent to a reconnecting participant.
type ServerReconnected struct {
	State sim.Snapshot `json:"state"`
}

// ServerOpponentDisconnected tells a participant their opponent dropped.
type ServerOpponentDisconnected struct {
	ParticipantID string `json:"participantId"`
}

// ServerEnded is the terminal notice for a session.
type ServerEnded struct {
	Reason string `json:"reason,omitempty"`
}

// ServerError is sent in response to a malformed or unrecognized message.
// The connection stays open.
type ServerError struct {
	Message string `json:"message"`
}
