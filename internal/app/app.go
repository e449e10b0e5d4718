package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"parley/internal/client"
	"parley/internal/config"
	"parley/internal/logging"
	"parley/internal/realtime"
	"parley/internal/runctx"
	"parley/internal/runstatus"
	"parley/internal/token"
)

const (
	reconnectDelay       = 2 * time.Second
	reconnectMaxDelay    = 30 * time.Second
	renewalCheckInterval = time.Minute
)

// ChatApp coordinates the signed-in session, the realtime channel, and the
// room the user wants to be in. The realtime core stays dumb about
// reconnects; this layer owns the backoff loop and re-enters the desired
// room explicitly on every successful connect.
type ChatApp struct {
	opts   config.Options
	client *client.ChatClient
	logger *logging.Logger
	hooks  Callbacks
	status runtimeStatusState

	reconnectInitial time.Duration
	reconnectMax     time.Duration

	mu          sync.Mutex
	session     *realtime.Session
	desiredRoom string
	stopConnect context.CancelFunc

	drops  chan error
	events chan chatEvent
}

type Callbacks struct {
	OnStatusChange   func(string)
	OnBacklog        func(room string, messages []realtime.Message)
	OnMessage        func(realtime.Message)
	OnSessionExpired func(error)
}

type chatEvent struct {
	kind    eventKind
	room    string
	backlog []realtime.Message
	message realtime.Message
}

type eventKind int

const (
	eventKindBacklog eventKind = iota
	eventKindMessage
)

func New(opts config.Options, chatClient *client.ChatClient, logger *logging.Logger, hooks Callbacks) *ChatApp {
	if chatClient == nil {
		panic("app.New: client must not be nil")
	}
	if logger == nil {
		panic("app.New: logger must not be nil")
	}
	a := &ChatApp{
		opts:             opts,
		client:           chatClient,
		logger:           logger,
		hooks:            hooks,
		reconnectInitial: reconnectDelay,
		reconnectMax:     reconnectMaxDelay,
		drops:            make(chan error, 1),
		events:           make(chan chatEvent, 64),
	}
	chatClient.OnSessionExpired(a.handleSessionExpired)
	return a
}

// SignIn authenticates and leaves the app ready to connect.
func (a *ChatApp) SignIn(ctx context.Context, email, password string) (client.User, error) {
	user, err := a.client.Login(ctx, email, password)
	if err != nil {
		return client.User{}, err
	}
	a.setRuntimeStatus(runstatus.Authenticated)
	return user, nil
}

// Register creates an account without signing in.
func (a *ChatApp) Register(ctx context.Context, email, password, name string) error {
	return a.client.Register(ctx, email, password, name)
}

// SignOut tears the realtime channel down and discards the stored session.
func (a *ChatApp) SignOut() error {
	a.Disconnect()
	if err := a.client.Logout(); err != nil {
		return err
	}
	a.setRuntimeStatus(runstatus.Anonymous)
	return nil
}

// Identity reports the signed-in user derived from the stored credential,
// updating the runtime status to match. Called at startup to resume a
// persisted session.
func (a *ChatApp) Identity() (token.Identity, bool) {
	identity, ok := a.client.CurrentIdentity()
	if ok {
		a.setRuntimeStatus(runstatus.Authenticated)
	} else {
		a.setRuntimeStatus(runstatus.Anonymous)
	}
	return identity, ok
}

// Connect starts the connection supervisor: renew the credential if needed,
// dial the chat channel, re-enter the desired room, and keep retrying with
// exponential backoff whenever the channel drops. It returns once the
// supervisor goroutine is running.
func (a *ChatApp) Connect(ctx context.Context) error {
	if _, ok := a.client.CurrentIdentity(); !ok {
		return ErrNotSignedIn
	}

	a.mu.Lock()
	if a.stopConnect != nil {
		a.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.stopConnect = cancel
	session := a.session
	if session == nil {
		session = realtime.NewSession(
			a.client.Endpoints().WebsocketURL,
			a.client.Credentials(),
			a.logger,
			realtime.Handlers{
				OnBacklog:    a.handleBacklog,
				OnMessage:    a.handleMessage,
				OnDisconnect: a.handleDrop,
			},
		)
		a.session = session
	}
	a.mu.Unlock()

	go a.forwardEvents(runCtx)
	go a.runRenewalLoop(runCtx)
	go a.runConnectionLoop(runCtx, session)
	return nil
}

// Disconnect stops the supervisor and closes the channel. User-initiated,
// so no reconnect follows.
func (a *ChatApp) Disconnect() {
	a.mu.Lock()
	cancel := a.stopConnect
	a.stopConnect = nil
	session := a.session
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if session != nil {
		session.Disconnect()
	}
	a.setRuntimeStatus(runstatus.Disconnected)
}

// JoinRoom records the room the user wants and enters it if the channel is
// up. The desired room survives reconnects: every successful connect joins
// it again.
func (a *ChatApp) JoinRoom(name string) error {
	room := strings.TrimSpace(name)
	if room == "" {
		return nil
	}

	a.mu.Lock()
	a.desiredRoom = room
	session := a.session
	a.mu.Unlock()

	if session == nil || session.State() != realtime.Connected {
		a.logger.Debug("room queued until channel connects", logging.Field("room", room))
		return nil
	}
	return session.JoinRoom(room)
}

// LeaveRoom leaves the current room and forgets the desired room, so a
// reconnect lands in the lobby instead of re-entering it.
func (a *ChatApp) LeaveRoom() error {
	a.mu.Lock()
	a.desiredRoom = ""
	session := a.session
	a.mu.Unlock()

	if session == nil {
		return realtime.ErrNotInRoom
	}
	if err := session.LeaveRoom(); err != nil {
		return err
	}
	a.setRuntimeStatus(runstatus.Connected)
	return nil
}

func (a *ChatApp) SendMessage(content string) error {
	a.mu.Lock()
	session := a.session
	a.mu.Unlock()
	if session == nil {
		return realtime.ErrNotInRoom
	}
	return session.SendMessage(content)
}

// Messages snapshots the current room's ordered log.
func (a *ChatApp) Messages() []realtime.Message {
	a.mu.Lock()
	session := a.session
	a.mu.Unlock()
	if session == nil {
		return nil
	}
	return session.Messages()
}

func (a *ChatApp) Room() (string, bool) {
	a.mu.Lock()
	session := a.session
	a.mu.Unlock()
	if session == nil {
		return "", false
	}
	return session.Room()
}

func (a *ChatApp) Status() string {
	return a.status.currentStatus()
}

func (a *ChatApp) runConnectionLoop(ctx context.Context, session *realtime.Session) {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = a.reconnectInitial
	retry.MaxInterval = a.reconnectMax
	retry.Reset()

	_, retryErr := backoff.Retry(ctx, func() (struct{}, error) {
		err := a.runConnection(ctx, session)
		if err == nil {
			return struct{}{}, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return struct{}{}, err
		}
		if isTerminalAuthFailure(err) {
			// The forced sign-out hook already moved the status; retrying
			// without a credential would loop on 401s.
			return struct{}{}, backoff.Permanent(err)
		}
		a.setRuntimeStatus(runstatus.Reconnecting)
		return struct{}{}, err
	},
		backoff.WithBackOff(retry),
		backoff.WithNotify(func(err error, next time.Duration) {
			a.logger.Debug("retrying chat channel",
				logging.Field("error", err),
				logging.Field("next_retry", next.String()))
		}),
	)

	session.Disconnect()
	if retryErr != nil && !errors.Is(retryErr, context.Canceled) && !errors.Is(retryErr, context.DeadlineExceeded) {
		if !isTerminalAuthFailure(retryErr) {
			a.logger.Warn("chat channel supervisor stopped", logging.Field("error", retryErr))
			a.setRuntimeStatus(runstatus.Disconnected)
		}
		return
	}
	if ctx.Err() != nil {
		a.logger.Debug("chat channel supervisor stopped: context canceled")
	}
	a.setRuntimeStatus(runstatus.Disconnected)
}

// runConnection runs one channel lifetime: dial, join, then block until the
// channel drops or the supervisor stops. A nil return means a clean stop.
func (a *ChatApp) runConnection(ctx context.Context, session *realtime.Session) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	a.setRuntimeStatus(runstatus.Connecting)

	if err := a.client.EnsureFreshSession(ctx); err != nil {
		return err
	}

	// Drop notifications from a previous lifetime are stale by now.
	select {
	case <-a.drops:
	default:
	}

	err := session.Connect(ctx)
	if errors.Is(err, realtime.ErrHandshakeUnauthorized) {
		// The server disagreed about the credential's validity. Renew once
		// and redial; a rejected renewal forces sign-out via the client.
		a.logger.Debug("handshake rejected, renewing credential", logging.Field("error", err))
		if renewErr := a.client.RenewSession(ctx); renewErr != nil {
			return renewErr
		}
		err = session.Connect(ctx)
	}
	if err != nil {
		return err
	}
	a.setRuntimeStatus(runstatus.Connected)

	if room, ok := a.desiredRoomName(); ok {
		if joinErr := session.JoinRoom(room); joinErr != nil {
			a.logger.Warn("failed to re-enter room", logging.Field("room", room), logging.Field("error", joinErr))
		}
	}

	select {
	case <-ctx.Done():
		return nil
	case dropErr := <-a.drops:
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("chat channel dropped: %w", dropErr)
	}
}

// runRenewalLoop keeps the access credential fresh while the supervisor is
// up, so replays and redials present a live token instead of faulting first.
func (a *ChatApp) runRenewalLoop(ctx context.Context) {
	ticker := time.NewTicker(renewalCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, ok := a.client.CurrentIdentity(); !ok {
				continue
			}
			if err := a.client.EnsureFreshSession(ctx); err != nil && ctx.Err() == nil {
				a.logger.Warn("background credential renewal failed", logging.Field("error", err))
			}
		}
	}
}

// forwardEvents decouples the channel's read loop from the UI hooks: the
// read loop only ever publishes into a buffered queue.
func (a *ChatApp) forwardEvents(ctx context.Context) {
	for {
		event, ok := runctx.RecvOrDone(ctx, "chat event forwarder", a.logger, a.events)
		if !ok {
			return
		}
		switch event.kind {
		case eventKindBacklog:
			if a.hooks.OnBacklog != nil {
				a.hooks.OnBacklog(event.room, event.backlog)
			}
		case eventKindMessage:
			if a.hooks.OnMessage != nil {
				a.hooks.OnMessage(event.message)
			}
		}
	}
}

func (a *ChatApp) handleBacklog(room string, messages []realtime.Message) {
	a.setRuntimeStatus(runstatus.InRoom)
	a.publishEvent(chatEvent{kind: eventKindBacklog, room: room, backlog: messages})
}

func (a *ChatApp) handleMessage(message realtime.Message) {
	a.publishEvent(chatEvent{kind: eventKindMessage, message: message})
}

func (a *ChatApp) handleDrop(err error) {
	select {
	case a.drops <- err:
	default:
	}
}

func (a *ChatApp) handleSessionExpired(cause error) {
	a.mu.Lock()
	cancel := a.stopConnect
	a.stopConnect = nil
	session := a.session
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if session != nil {
		session.Disconnect()
	}
	a.setRuntimeStatus(runstatus.DisconnectedAuth)
	if a.hooks.OnSessionExpired != nil {
		a.hooks.OnSessionExpired(cause)
	}
}

func (a *ChatApp) publishEvent(event chatEvent) {
	select {
	case a.events <- event:
	default:
		a.logger.Warn("dropping chat event, consumer not keeping up")
	}
}

func (a *ChatApp) desiredRoomName() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.desiredRoom, a.desiredRoom != ""
}

func isTerminalAuthFailure(err error) bool {
	return errors.Is(err, client.ErrNoSession) ||
		errors.Is(err, client.ErrRefreshFailed) ||
		errors.Is(err, realtime.ErrNotAuthenticated)
}

type runtimeStatusState struct {
	mu      sync.Mutex
	current string
}

func (s *runtimeStatusState) update(status string) (string, string, bool) {
	trimmed := strings.TrimSpace(status)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == trimmed {
		return s.current, trimmed, false
	}
	previous := s.current
	s.current = trimmed
	return previous, trimmed, true
}

func (s *runtimeStatusState) currentStatus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == "" {
		return runstatus.Anonymous
	}
	return s.current
}

func (a *ChatApp) setRuntimeStatus(status string) {
	previous, next, changed := a.status.update(status)
	if !changed {
		return
	}
	a.logger.Debug("runtime status transition",
		logging.Field("from", previous),
		logging.Field("to", next),
	)
	if a.hooks.OnStatusChange != nil {
		a.hooks.OnStatusChange(status)
	}
}
