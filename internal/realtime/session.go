package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"parley/internal/credstore"
	"parley/internal/logging"
)

// Session owns the chat channel lifecycle: Disconnected → Connecting →
// Connected, with an orthogonal room attribute while connected. It holds
// the ordered message log for the room it is in; joining a room replaces
// the log wholesale with the server's backlog, and any disconnect discards
// it. There is no automatic reconnect or room re-entry: after a drop the
// caller connects and joins again explicitly.
type Session struct {
	url      string
	creds    *credstore.Keeper
	logger   *logging.Logger
	handlers Handlers
	dialer   *websocket.Dialer

	mu          sync.Mutex
	state       State
	room        string
	pendingRoom string
	messages    []Message
	conn        *websocket.Conn

	// gorilla permits one concurrent writer per connection.
	writeMu sync.Mutex
}

func NewSession(url string, creds *credstore.Keeper, logger *logging.Logger, handlers Handlers) *Session {
	if creds == nil {
		panic("realtime.NewSession: credential keeper must not be nil")
	}
	if logger == nil {
		panic("realtime.NewSession: logger must not be nil")
	}
	return &Session{
		url:      url,
		creds:    creds,
		logger:   logger,
		handlers: handlers,
		// No handshake timeout here: cancellation comes from ctx, matching
		// the rest of the client's transport behavior.
		dialer: &websocket.Dialer{},
	}
}

// Connect performs the websocket handshake, presenting the stored access
// credential. On failure the session is left Disconnected.
func (s *Session) Connect(ctx context.Context) error {
	access, ok := s.creds.AccessToken()
	if !ok {
		return ErrNotAuthenticated
	}

	s.mu.Lock()
	if s.state != Disconnected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.state = Connecting
	s.mu.Unlock()

	s.logger.Debug("dialing chat channel", logging.Field("url", s.url))
	header := http.Header{}
	header.Set("Authorization", "Bearer "+access)
	conn, resp, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		s.mu.Lock()
		s.state = Disconnected
		s.mu.Unlock()
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %s", ErrHandshakeUnauthorized, resp.Status)
		}
		return fmt.Errorf("chat channel dial: %w", err)
	}

	s.mu.Lock()
	s.state = Connected
	s.conn = conn
	s.mu.Unlock()
	s.logger.Info("chat channel connected")

	go s.readLoop(conn)
	return nil
}

// Disconnect tears the channel down and clears room state. Safe to call in
// any state.
func (s *Session) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.state = Disconnected
	s.room = ""
	s.pendingRoom = ""
	s.messages = nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
		s.logger.Debug("chat channel closed")
	}
}

// JoinRoom asks the server for membership in the named room. The transition
// to in-room happens when the backlog arrives; joining again after an
// acknowledgment replaces the message log rather than duplicating it.
func (s *Session) JoinRoom(name string) error {
	room := strings.TrimSpace(name)
	if room == "" {
		// Blank names are filtered by the UI; treat a slip-through as a no-op.
		s.logger.Debug("ignoring blank room name")
		return nil
	}

	s.mu.Lock()
	if s.state != Connected {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.pendingRoom = room
	conn := s.conn
	s.mu.Unlock()

	s.logger.Debug("joining room", logging.Field("room", room))
	return s.writeEnvelope(conn, eventJoinRoom, room)
}

// LeaveRoom emits the leave intent and drops the room and its message log.
func (s *Session) LeaveRoom() error {
	s.mu.Lock()
	if s.state != Connected || s.room == "" {
		s.mu.Unlock()
		return ErrNotInRoom
	}
	room := s.room
	s.room = ""
	s.pendingRoom = ""
	s.messages = nil
	conn := s.conn
	s.mu.Unlock()

	s.logger.Debug("leaving room", logging.Field("room", room))
	return s.writeEnvelope(conn, eventLeaveRoom, room)
}

// SendMessage emits a message to the current room. The log is not touched
// here: the authoritative copy comes back as a new_message event so every
// member, sender included, sees the same ordering.
func (s *Session) SendMessage(content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	s.mu.Lock()
	if s.state != Connected || s.room == "" {
		s.mu.Unlock()
		return ErrNotInRoom
	}
	room := s.room
	conn := s.conn
	s.mu.Unlock()

	return s.writeEnvelope(conn, eventSendMessage, sendMessagePayload{Room: room, Content: content})
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Room returns the acknowledged room, if any.
func (s *Session) Room() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room, s.room != ""
}

// Messages returns a snapshot of the ordered log for the current room.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

func (s *Session) writeEnvelope(conn *websocket.Conn, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteJSON(envelope{Event: event, Data: payload}); err != nil {
		return fmt.Errorf("chat channel write: %w", err)
	}
	return nil
}

func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		frame := envelope{}
		if err := conn.ReadJSON(&frame); err != nil {
			s.handleDisconnect(conn, err)
			return
		}

		switch frame.Event {
		case eventPreviousMessages:
			var backlog []Message
			if err := json.Unmarshal(frame.Data, &backlog); err != nil {
				s.logger.Warn("invalid backlog payload", logging.Field("error", err))
				continue
			}
			s.applyBacklog(backlog)
		case eventNewMessage:
			var message Message
			if err := json.Unmarshal(frame.Data, &message); err != nil {
				s.logger.Warn("invalid message payload", logging.Field("error", err))
				continue
			}
			s.appendMessage(message)
		default:
			s.logger.Debug("ignoring chat event", logging.Field("event", frame.Event))
			if s.handlers.OnUnhandled != nil {
				s.handlers.OnUnhandled(frame.Event)
			}
		}
	}
}

// applyBacklog is the join acknowledgment: the server's snapshot fully
// supersedes whatever the log held, and a pending join becomes the current
// room.
func (s *Session) applyBacklog(backlog []Message) {
	s.mu.Lock()
	if s.pendingRoom != "" {
		s.room = s.pendingRoom
		s.pendingRoom = ""
	}
	room := s.room
	s.messages = append([]Message(nil), backlog...)
	snapshot := append([]Message(nil), s.messages...)
	s.mu.Unlock()

	s.logger.Debug("room backlog received",
		logging.Field("room", room),
		logging.Field("count", len(snapshot)),
	)
	if s.handlers.OnBacklog != nil {
		s.handlers.OnBacklog(room, snapshot)
	}
}

func (s *Session) appendMessage(message Message) {
	s.mu.Lock()
	if s.room == "" {
		// Stray message after leaving; the log belongs to no room now.
		s.mu.Unlock()
		return
	}
	s.messages = append(s.messages, message)
	s.mu.Unlock()

	if s.handlers.OnMessage != nil {
		s.handlers.OnMessage(message)
	}
}

func (s *Session) handleDisconnect(conn *websocket.Conn, err error) {
	s.mu.Lock()
	// A Disconnect() call already swapped the conn out; only report drops
	// of the connection this loop was reading.
	intentional := s.conn != conn
	if !intentional {
		s.conn = nil
		s.state = Disconnected
		s.room = ""
		s.pendingRoom = ""
		s.messages = nil
	}
	s.mu.Unlock()

	_ = conn.Close()
	if intentional {
		return
	}
	s.logger.Debug("chat channel disconnected", logging.Field("error", err))
	if s.handlers.OnDisconnect != nil {
		s.handlers.OnDisconnect(err)
	}
}
