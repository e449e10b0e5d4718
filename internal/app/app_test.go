package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"parley/internal/client"
	"parley/internal/config"
	"parley/internal/credstore"
	"parley/internal/logging"
	"parley/internal/realtime"
	"parley/internal/runstatus"
)

var testUpgrader = websocket.Upgrader{}

func testAccessToken(t *testing.T, email string, ttl time.Duration) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "u1",
		"email": email,
		"exp":   time.Now().Add(ttl).Unix(),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

type wireEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type testChatServer struct {
	server       *httptest.Server
	accessToken  string
	refreshCalls atomic.Int32
	rejectWS     atomic.Bool
	backlog      []realtime.Message

	// httptest stops tracking hijacked connections, so CloseClientConnections
	// cannot reach an upgraded websocket; upgraded connections are recorded
	// here so tests can sever them to simulate a server-side drop.
	connMu sync.Mutex
	conns  []*websocket.Conn
}

func (ts *testChatServer) trackConn(conn *websocket.Conn) {
	ts.connMu.Lock()
	defer ts.connMu.Unlock()
	ts.conns = append(ts.conns, conn)
}

func (ts *testChatServer) dropChatConns() {
	ts.connMu.Lock()
	defer ts.connMu.Unlock()
	for _, conn := range ts.conns {
		_ = conn.Close()
	}
	ts.conns = nil
}

// newChatTestServer serves the auth endpoints and the websocket room
// protocol from one address, the shape BuildEndpoints expects.
func newChatTestServer(t *testing.T, accessToken string, backlog []realtime.Message) *testChatServer {
	t.Helper()
	ts := &testChatServer{accessToken: accessToken, backlog: backlog}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"accessToken":  ts.accessToken,
			"refreshToken": "refresh-1",
			"user":         map[string]string{"email": "ada@example.test"},
		})
	})
	mux.HandleFunc("/api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		ts.refreshCalls.Add(1)
		if ts.rejectWS.Load() {
			http.Error(w, "refresh revoked", http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"accessToken":  ts.accessToken,
			"refreshToken": "refresh-2",
		})
	})
	mux.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		if ts.rejectWS.Load() || !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			http.Error(w, "bad credential", http.StatusUnauthorized)
			return
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.trackConn(conn)
		defer conn.Close()
		for {
			var frame wireEnvelope
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			switch frame.Event {
			case "join_room":
				payload, _ := json.Marshal(ts.backlog)
				_ = conn.WriteJSON(wireEnvelope{Event: "previous_messages", Data: payload})
			case "send_message":
				var msg struct {
					Room    string `json:"room"`
					Content string `json:"content"`
				}
				_ = json.Unmarshal(frame.Data, &msg)
				payload, _ := json.Marshal(realtime.Message{
					Sender:  realtime.Sender{Email: "ada@example.test"},
					Content: msg.Content,
				})
				_ = conn.WriteJSON(wireEnvelope{Event: "new_message", Data: payload})
			}
		}
	})

	ts.server = httptest.NewServer(mux)
	t.Cleanup(ts.server.Close)
	return ts
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []string
}

func (r *statusRecorder) record(status string) {
	r.mu.Lock()
	r.statuses = append(r.statuses, status)
	r.mu.Unlock()
}

func (r *statusRecorder) contains(status string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.statuses {
		if s == status {
			return true
		}
	}
	return false
}

func newTestApp(t *testing.T, server *httptest.Server, hooks Callbacks) *ChatApp {
	t.Helper()
	endpoints, err := config.BuildEndpoints(server.URL)
	if err != nil {
		t.Fatalf("BuildEndpoints() error = %v", err)
	}
	logger := logging.New(false)
	logger.SetTerminalOutputEnabled(false)

	keeper := credstore.NewKeeper(credstore.NewMemoryStore())
	a := New(config.Options{}, client.New(server.Client(), endpoints, keeper, logger), logger, hooks)
	a.reconnectInitial = 50 * time.Millisecond
	a.reconnectMax = 200 * time.Millisecond
	return a
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSignInConnectJoin_ForwardsBacklogThroughHooks(t *testing.T) {
	access := testAccessToken(t, "ada@example.test", time.Hour)
	server := newChatTestServer(t, access, []realtime.Message{
		{Sender: realtime.Sender{Email: "grace@example.test"}, Content: "hello"},
	})

	statuses := &statusRecorder{}
	backlogs := make(chan []realtime.Message, 4)
	a := newTestApp(t, server.server, Callbacks{
		OnStatusChange: statuses.record,
		OnBacklog:      func(_ string, messages []realtime.Message) { backlogs <- messages },
	})
	defer a.Disconnect()

	if _, err := a.SignIn(context.Background(), "ada@example.test", "hunter2"); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if !statuses.contains(runstatus.Authenticated) {
		t.Fatalf("statuses = %v, want authenticated", statuses.statuses)
	}

	if err := a.JoinRoom("general"); err != nil {
		t.Fatalf("JoinRoom() before connect error = %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	select {
	case backlog := <-backlogs:
		if len(backlog) != 1 || backlog[0].Content != "hello" {
			t.Fatalf("backlog = %#v", backlog)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for backlog")
	}

	waitFor(t, "in-room status", func() bool { return statuses.contains(runstatus.InRoom) })
	if room, ok := a.Room(); !ok || room != "general" {
		t.Fatalf("room = %q ok=%v", room, ok)
	}
}

func TestSendMessage_EchoReachesMessageHook(t *testing.T) {
	access := testAccessToken(t, "ada@example.test", time.Hour)
	server := newChatTestServer(t, access, nil)

	backlogs := make(chan []realtime.Message, 1)
	echoes := make(chan realtime.Message, 1)
	a := newTestApp(t, server.server, Callbacks{
		OnBacklog: func(_ string, messages []realtime.Message) { backlogs <- messages },
		OnMessage: func(message realtime.Message) { echoes <- message },
	})
	defer a.Disconnect()

	if _, err := a.SignIn(context.Background(), "ada@example.test", "hunter2"); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if err := a.JoinRoom("general"); err != nil {
		t.Fatalf("JoinRoom() error = %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	<-backlogs

	if err := a.SendMessage("anyone here?"); err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	select {
	case echo := <-echoes:
		if echo.Content != "anyone here?" {
			t.Fatalf("echo = %#v", echo)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for echo")
	}
	if got := len(a.Messages()); got != 1 {
		t.Fatalf("messages = %d, want exactly 1 (no local copy)", got)
	}
}

func TestConnect_WithoutSignedInSession(t *testing.T) {
	access := testAccessToken(t, "ada@example.test", time.Hour)
	server := newChatTestServer(t, access, nil)

	a := newTestApp(t, server.server, Callbacks{})
	if err := a.Connect(context.Background()); !errors.Is(err, ErrNotSignedIn) {
		t.Fatalf("Connect() error = %v, want not-signed-in", err)
	}
}

func TestReconnect_RejoinsDesiredRoomAfterDrop(t *testing.T) {
	access := testAccessToken(t, "ada@example.test", time.Hour)
	server := newChatTestServer(t, access, nil)

	statuses := &statusRecorder{}
	backlogs := make(chan []realtime.Message, 4)
	a := newTestApp(t, server.server, Callbacks{
		OnStatusChange: statuses.record,
		OnBacklog:      func(_ string, messages []realtime.Message) { backlogs <- messages },
	})
	defer a.Disconnect()

	if _, err := a.SignIn(context.Background(), "ada@example.test", "hunter2"); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if err := a.JoinRoom("general"); err != nil {
		t.Fatalf("JoinRoom() error = %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	<-backlogs

	server.dropChatConns()

	// The supervisor reconnects and re-enters the room, signalled by a
	// second backlog delivery.
	select {
	case <-backlogs:
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for rejoin after drop")
	}
	if !statuses.contains(runstatus.Reconnecting) {
		t.Fatalf("statuses = %v, want a reconnecting transition", statuses.statuses)
	}
	waitFor(t, "in-room after reconnect", func() bool {
		room, ok := a.Room()
		return ok && room == "general"
	})
}

func TestSessionExpired_RejectedRenewalStopsSupervisor(t *testing.T) {
	access := testAccessToken(t, "ada@example.test", time.Hour)
	server := newChatTestServer(t, access, nil)

	statuses := &statusRecorder{}
	var expired atomic.Int32
	a := newTestApp(t, server.server, Callbacks{
		OnStatusChange:   statuses.record,
		OnSessionExpired: func(error) { expired.Add(1) },
	})

	if _, err := a.SignIn(context.Background(), "ada@example.test", "hunter2"); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}

	// Revoke everything server-side: handshake 401s and the renewal 401s.
	server.rejectWS.Store(true)

	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	waitFor(t, "forced sign-out", func() bool { return expired.Load() > 0 })
	waitFor(t, "auth-disconnected status", func() bool {
		return statuses.contains(runstatus.DisconnectedAuth)
	})
	if got := expired.Load(); got != 1 {
		t.Fatalf("session expired hooks = %d, want 1", got)
	}
	if _, ok := a.Identity(); ok {
		t.Fatalf("identity should be gone after forced sign-out")
	}
}

func TestLeaveRoom_ClearsDesiredRoom(t *testing.T) {
	access := testAccessToken(t, "ada@example.test", time.Hour)
	server := newChatTestServer(t, access, nil)

	backlogs := make(chan []realtime.Message, 1)
	a := newTestApp(t, server.server, Callbacks{
		OnBacklog: func(_ string, messages []realtime.Message) { backlogs <- messages },
	})
	defer a.Disconnect()

	if _, err := a.SignIn(context.Background(), "ada@example.test", "hunter2"); err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if err := a.JoinRoom("general"); err != nil {
		t.Fatalf("JoinRoom() error = %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	<-backlogs

	if err := a.LeaveRoom(); err != nil {
		t.Fatalf("LeaveRoom() error = %v", err)
	}
	if _, ok := a.Room(); ok {
		t.Fatalf("room survived LeaveRoom()")
	}
	if room, ok := a.desiredRoomName(); ok {
		t.Fatalf("desired room %q survived LeaveRoom()", room)
	}
}
