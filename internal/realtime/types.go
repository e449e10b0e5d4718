package realtime

import "encoding/json"

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

type Sender struct {
	Email string `json:"email"`
}

type Message struct {
	Sender  Sender `json:"sender"`
	Content string `json:"content"`
}

// envelope is the wire frame for both directions on the chat channel.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

const (
	eventJoinRoom         = "join_room"
	eventLeaveRoom        = "leave_room"
	eventSendMessage      = "send_message"
	eventPreviousMessages = "previous_messages"
	eventNewMessage       = "new_message"
)

type sendMessagePayload struct {
	Room    string `json:"room"`
	Content string `json:"content"`
}

// Handlers receive inbound channel activity. They are invoked from the
// session's single read loop, so calls are ordered; each must be idempotent
// with respect to reconnects because a fresh backlog fully supersedes
// whatever came before.
type Handlers struct {
	OnBacklog    func(room string, messages []Message)
	OnMessage    func(message Message)
	OnDisconnect func(err error)
	OnUnhandled  func(event string)
}
