package tui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"parley/internal/config"
	"parley/internal/logging"
	"parley/internal/realtime"
	"parley/internal/runstatus"
)

func (m *chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.quitting {
		if _, ok := msg.(quitNowMsg); ok {
			m.cleanup()
			return m, tea.Quit
		}
		return m, nil
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChatView()
		return m, nil
	case statusMsg:
		m.applyRuntimeStatus(string(msg))
		return m, waitForStatus(m.statusCh)
	case logMsg:
		m.lastLog = string(msg)
		return m, waitForLog(m.logCh)
	case backlogMsg:
		m.room = msg.room
		m.messages = append([]realtime.Message(nil), msg.messages...)
		m.refreshChatView(true)
		return m, waitForBacklog(m.backlogCh)
	case messageMsg:
		wasAtBottom := m.chatView.AtBottom()
		m.messages = append(m.messages, realtime.Message(msg))
		if len(m.messages) > chatLogLineLimit {
			m.messages = append([]realtime.Message(nil), m.messages[len(m.messages)-chatLogLineLimit:]...)
		}
		m.refreshChatView(wasAtBottom)
		return m, waitForMessage(m.messageCh)
	case sessionExpiredMsg:
		m.screen = screenAuth
		m.room = ""
		m.messages = nil
		m.errText = "Session expired. Sign in again."
		if msg.err != nil {
			m.logger.Debug("session expired in ui", logging.Field("error", msg.err))
		}
		m.focusAuthInput(inputPassword)
		return m, waitForExpired(m.expiredCh)
	case signInResultMsg:
		if msg.err != nil {
			m.errText = msg.err.Error()
			m.kind = statusError
			return m, nil
		}
		m.errText = ""
		m.identityEmail = msg.user.Email
		m.screen = screenChat
		m.saveSettingsSnapshot()
		return m, m.connectCmd()
	case registerResultMsg:
		if msg.err != nil {
			m.errText = msg.err.Error()
			return m, nil
		}
		m.errText = "Account created. Sign in to continue."
		m.registering = false
		m.focusAuthInput(inputPassword)
		return m, nil
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	}
	return m, nil
}

func (m *chatModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.Type == tea.KeyCtrlC {
		return m, m.beginQuitCmd()
	}
	if m.screen == screenAuth {
		return m.handleAuthKey(msg)
	}
	return m.handleChatKey(msg)
}

func (m *chatModel) handleAuthKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "tab", "down":
		m.focusAuthInput(m.nextAuthInput(1))
		return m, nil
	case "shift+tab", "up":
		m.focusAuthInput(m.nextAuthInput(-1))
		return m, nil
	case "ctrl+r":
		m.registering = !m.registering
		m.errText = ""
		return m, nil
	case "enter":
		if m.registering {
			return m, m.registerCmd()
		}
		return m, m.signInCmd()
	case "esc":
		return m, m.beginQuitCmd()
	}

	var cmd tea.Cmd
	m.inputs[m.focusIdx], cmd = m.inputs[m.focusIdx].Update(msg)
	return m, cmd
}

func (m *chatModel) handleChatKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		return m, m.submitChatInput()
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.chatView, cmd = m.chatView.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.messageInput, cmd = m.messageInput.Update(msg)
	return m, cmd
}

// submitChatInput routes the input line: slash commands drive the session,
// anything else goes to the room.
func (m *chatModel) submitChatInput() tea.Cmd {
	line := strings.TrimSpace(m.messageInput.Value())
	m.messageInput.SetValue("")
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		if err := m.chat.SendMessage(line); err != nil {
			m.errText = err.Error()
		} else {
			m.errText = ""
		}
		return nil
	}

	command, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(command) {
	case "/join":
		if arg == "" {
			m.errText = "Usage: /join <room>"
			return nil
		}
		if err := m.chat.JoinRoom(arg); err != nil {
			m.errText = err.Error()
			return nil
		}
		m.errText = ""
		m.opts.Room = arg
		m.saveSettingsSnapshot()
		return nil
	case "/leave":
		if err := m.chat.LeaveRoom(); err != nil {
			m.errText = err.Error()
			return nil
		}
		m.errText = ""
		m.room = ""
		m.messages = nil
		m.refreshChatView(true)
		return nil
	case "/connect":
		return m.connectCmd()
	case "/disconnect":
		m.chat.Disconnect()
		return nil
	case "/logout":
		if err := m.chat.SignOut(); err != nil {
			m.errText = err.Error()
			return nil
		}
		m.screen = screenAuth
		m.identityEmail = ""
		m.room = ""
		m.messages = nil
		m.errText = ""
		m.focusAuthInput(inputPassword)
		return nil
	case "/quit":
		return m.beginQuitCmd()
	default:
		m.errText = "Unknown command: " + command
		return nil
	}
}

func (m *chatModel) signInCmd() tea.Cmd {
	serverURL := strings.TrimSpace(m.inputs[inputServer].Value())
	email := strings.TrimSpace(m.inputs[inputEmail].Value())
	password := m.inputs[inputPassword].Value()
	if serverURL == "" || email == "" || password == "" {
		m.errText = "Server, email, and password are required."
		return nil
	}

	if err := m.buildApp(serverURL); err != nil {
		m.errText = err.Error()
		return nil
	}
	m.opts.ServerURL = serverURL
	m.opts.Email = email
	m.errText = ""
	m.status = runstatus.Connecting
	m.kind = statusConnecting

	chat := m.chat
	ctx := m.rootCtx
	return func() tea.Msg {
		user, err := chat.SignIn(ctx, email, password)
		return signInResultMsg{user: user, err: err}
	}
}

func (m *chatModel) registerCmd() tea.Cmd {
	serverURL := strings.TrimSpace(m.inputs[inputServer].Value())
	email := strings.TrimSpace(m.inputs[inputEmail].Value())
	password := m.inputs[inputPassword].Value()
	name := strings.TrimSpace(m.inputs[inputName].Value())
	if serverURL == "" || email == "" || password == "" || name == "" {
		m.errText = "Server, email, password, and name are required."
		return nil
	}

	if err := m.buildApp(serverURL); err != nil {
		m.errText = err.Error()
		return nil
	}
	m.errText = ""

	chat := m.chat
	ctx := m.rootCtx
	return func() tea.Msg {
		return registerResultMsg{err: chat.Register(ctx, email, password, name)}
	}
}

func (m *chatModel) connectCmd() tea.Cmd {
	if m.chat == nil {
		m.errText = "Sign in first."
		return nil
	}
	if room := strings.TrimSpace(m.opts.Room); room != "" {
		if err := m.chat.JoinRoom(room); err != nil {
			m.logger.Warn("failed to queue room", logging.Field("room", room), logging.Field("error", err))
		}
	}
	chat := m.chat
	ctx := m.rootCtx
	return func() tea.Msg {
		if err := chat.Connect(ctx); err != nil {
			return statusMsg(runstatus.Disconnected)
		}
		return nil
	}
}

func (m *chatModel) applyRuntimeStatus(status string) {
	m.status = status
	switch status {
	case runstatus.Connecting, runstatus.Reconnecting:
		m.kind = statusConnecting
	case runstatus.Connected, runstatus.InRoom:
		m.kind = statusConnected
	case runstatus.DisconnectedAuth:
		m.kind = statusError
	default:
		m.kind = statusIdle
	}
}

func (m *chatModel) focusAuthInput(index int) {
	for i := range m.inputs {
		m.inputs[i].Blur()
	}
	m.focusIdx = index
	m.inputs[m.focusIdx].Focus()
}

func (m *chatModel) nextAuthInput(direction int) int {
	limit := inputPassword
	if m.registering {
		limit = inputName
	}
	next := m.focusIdx + direction
	if next > limit {
		next = inputServer
	}
	if next < inputServer {
		next = limit
	}
	return next
}

func (m *chatModel) saveSettingsSnapshot() {
	settings := config.SettingsFromOptions(m.opts)
	settings.Debug = m.logger.DebugEnabled()
	if err := config.SaveSettings(settings); err != nil {
		m.logger.Warn("failed to persist settings", logging.Field("error", err))
	}
}

func (m *chatModel) beginQuitCmd() tea.Cmd {
	m.quitting = true
	return func() tea.Msg {
		return quitNowMsg{}
	}
}
