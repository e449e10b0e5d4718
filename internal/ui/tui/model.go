package tui

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"parley/internal/app"
	"parley/internal/client"
	"parley/internal/config"
	"parley/internal/credstore"
	"parley/internal/logging"
	"parley/internal/realtime"
	"parley/internal/runstatus"
)

const (
	statusChannelBufferSize  = 16
	logChannelBufferSize     = 256
	messageChannelBufferSize = 64
	chatLogLineLimit         = 5_000
	runErrorExitCode         = 1
)

type screen int

const (
	screenAuth screen = iota
	screenChat
)

type statusKind int

const (
	statusIdle statusKind = iota
	statusConnecting
	statusConnected
	statusError
)

type statusMsg string
type logMsg string
type messageMsg realtime.Message
type quitNowMsg struct{}

type backlogMsg struct {
	room     string
	messages []realtime.Message
}

type sessionExpiredMsg struct {
	err error
}

type signInResultMsg struct {
	user client.User
	err  error
}

type registerResultMsg struct {
	err error
}

const (
	inputServer = iota
	inputEmail
	inputPassword
	inputName
	authInputCount
)

type modelDeps struct {
	chat        *app.ChatApp
	logger      *logging.Logger
	unsubscribe func()
	rootCtx     context.Context
	rootCancel  context.CancelFunc
	program     *tea.Program
}

type modelChannels struct {
	statusCh  chan string
	logCh     chan string
	backlogCh chan backlogMsg
	messageCh chan realtime.Message
	expiredCh chan error
}

type modelRuntime struct {
	status        string
	kind          statusKind
	identityEmail string
	room          string
	messages      []realtime.Message
	quitting      bool
}

type chatModel struct {
	buildVersion string
	opts         config.Options
	modelDeps
	modelChannels
	modelRuntime
	cleanupOnce sync.Once

	screen       screen
	registering  bool
	focusIdx     int
	inputs       [authInputCount]textinput.Model
	messageInput textinput.Model
	chatView     viewport.Model
	errText      string
	lastLog      string
	width        int
	height       int
}

func Run(rootCtx context.Context, buildVersion string, opts config.Options) {
	if saved, loadErr := config.LoadSettings(); loadErr == nil {
		opts = config.MergeOptionsWithSettings(opts, saved)
	}

	logger := logging.New(false)
	logger.SetDebugEnabled(opts.Debug)
	if err := logger.EnableFilePersistence(0); err != nil {
		logger.Warn("failed to enable file log persistence", logging.Field("error", err))
	}
	logger.SetTerminalOutputEnabled(false)
	logger.Info("starting parley", logging.Field("version", buildVersion))

	m := newChatModel(rootCtx, buildVersion, opts, logger)
	program := tea.NewProgram(m, tea.WithAltScreen())
	m.program = program
	result, runErr := program.Run()
	if model, ok := result.(*chatModel); ok {
		model.cleanup()
	}
	_ = logger.Close()
	if runErr != nil {
		fmt.Fprintln(os.Stderr, runErr)
		os.Exit(runErrorExitCode)
	}
}

func newChatModel(rootCtx context.Context, buildVersion string, opts config.Options, logger *logging.Logger) *chatModel {
	if rootCtx == nil {
		rootCtx = context.Background()
	}
	runCtx, runCancel := context.WithCancel(rootCtx)

	m := &chatModel{
		buildVersion: buildVersion,
		opts:         opts,
		modelDeps: modelDeps{
			logger:     logger,
			rootCtx:    runCtx,
			rootCancel: runCancel,
		},
		modelChannels: modelChannels{
			statusCh:  make(chan string, statusChannelBufferSize),
			logCh:     make(chan string, logChannelBufferSize),
			backlogCh: make(chan backlogMsg, 4),
			messageCh: make(chan realtime.Message, messageChannelBufferSize),
			expiredCh: make(chan error, 2),
		},
		modelRuntime: modelRuntime{
			status: runstatus.Anonymous,
			kind:   statusIdle,
		},
	}

	m.inputs[inputServer] = newAuthInput("https://chat.example.com", opts.ServerURL, 0)
	m.inputs[inputEmail] = newAuthInput("you@example.com", opts.Email, 128)
	m.inputs[inputPassword] = newAuthInput("password", "", 128)
	m.inputs[inputPassword].EchoMode = textinput.EchoPassword
	m.inputs[inputName] = newAuthInput("display name", "", 64)
	m.focusIdx = firstBlankAuthInput(m.inputs)
	m.inputs[m.focusIdx].Focus()

	m.messageInput = textinput.New()
	m.messageInput.Placeholder = "message, or /join <room>, /leave, /quit"
	m.messageInput.CharLimit = 2000
	m.messageInput.Focus()

	m.chatView = viewport.New(80, 20)

	m.unsubscribe = logger.Subscribe(func(event logging.Event) {
		pushLatest(m.logCh, strings.TrimRight(logging.FormatEventLine(event), "\n"))
	})

	// Settings edits apply live: the debug toggle is the one knob that is
	// safe to flip under a running session.
	go func() {
		if err := config.WatchSettings(runCtx, logger, func(settings config.Settings) {
			logger.SetDebugEnabled(settings.Debug)
		}); err != nil && runCtx.Err() == nil {
			logger.Debug("settings watcher unavailable", logging.Field("error", err))
		}
	}()

	if strings.TrimSpace(opts.ServerURL) != "" {
		if err := m.buildApp(opts.ServerURL); err != nil {
			logger.Warn("saved server URL rejected", logging.Field("error", err))
		} else if identity, ok := m.chat.Identity(); ok {
			m.identityEmail = identity.Email
			m.screen = screenChat
			m.status = runstatus.Authenticated
			logger.Info("resumed stored session", logging.Field("email", identity.Email))
		}
	}

	return m
}

func newAuthInput(placeholder, value string, limit int) textinput.Model {
	input := textinput.New()
	input.Placeholder = placeholder
	input.SetValue(strings.TrimSpace(value))
	if limit > 0 {
		input.CharLimit = limit
	}
	return input
}

func firstBlankAuthInput(inputs [authInputCount]textinput.Model) int {
	for i := inputServer; i <= inputPassword; i++ {
		if strings.TrimSpace(inputs[i].Value()) == "" {
			return i
		}
	}
	return inputPassword
}

// buildApp wires a client and orchestrator for the given server. Called
// once per server URL; signing in against a different server replaces the
// whole stack.
func (m *chatModel) buildApp(serverURL string) error {
	endpoints, err := config.BuildEndpoints(serverURL)
	if err != nil {
		return err
	}

	var store credstore.Store
	if m.opts.NoPersist {
		store = credstore.NewMemoryStore()
	} else {
		path, pathErr := credstore.DefaultCredentialsPath()
		if pathErr != nil {
			return pathErr
		}
		fileStore, storeErr := credstore.NewFileStore(path)
		if storeErr != nil {
			return storeErr
		}
		store = fileStore
	}

	chatClient := client.New(http.DefaultClient, endpoints, credstore.NewKeeper(store), m.logger)
	m.chat = app.New(m.opts, chatClient, m.logger, app.Callbacks{
		OnStatusChange: func(status string) {
			pushLatest(m.statusCh, status)
		},
		OnBacklog: func(room string, messages []realtime.Message) {
			pushLatest(m.backlogCh, backlogMsg{room: room, messages: messages})
		},
		OnMessage: func(message realtime.Message) {
			pushLatest(m.messageCh, message)
		},
		OnSessionExpired: func(err error) {
			pushLatest(m.expiredCh, err)
		},
	})
	return nil
}

// pushLatest never blocks the producer: when the UI lags, the oldest entry
// is sacrificed for the newest.
func pushLatest[T any](ch chan T, value T) {
	select {
	case ch <- value:
	default:
		select {
		case <-ch:
		default:
		}
		ch <- value
	}
}

func (m *chatModel) Init() tea.Cmd {
	cmds := []tea.Cmd{
		waitForStatus(m.statusCh),
		waitForLog(m.logCh),
		waitForBacklog(m.backlogCh),
		waitForMessage(m.messageCh),
		waitForExpired(m.expiredCh),
		textinput.Blink,
	}
	if m.screen == screenChat && m.opts.AutoConnect {
		cmds = append(cmds, m.connectCmd())
	}
	return tea.Batch(cmds...)
}

func waitForStatus(ch <-chan string) tea.Cmd {
	return func() tea.Msg {
		status, ok := <-ch
		if !ok {
			return nil
		}
		return statusMsg(status)
	}
}

func waitForLog(ch <-chan string) tea.Cmd {
	return func() tea.Msg {
		line, ok := <-ch
		if !ok {
			return nil
		}
		return logMsg(line)
	}
}

func waitForBacklog(ch <-chan backlogMsg) tea.Cmd {
	return func() tea.Msg {
		backlog, ok := <-ch
		if !ok {
			return nil
		}
		return backlog
	}
}

func waitForMessage(ch <-chan realtime.Message) tea.Cmd {
	return func() tea.Msg {
		message, ok := <-ch
		if !ok {
			return nil
		}
		return messageMsg(message)
	}
}

func waitForExpired(ch <-chan error) tea.Cmd {
	return func() tea.Msg {
		err, ok := <-ch
		if !ok {
			return nil
		}
		return sessionExpiredMsg{err: err}
	}
}

func (m *chatModel) cleanup() {
	m.cleanupOnce.Do(func() {
		m.logger.Debug("tui cleanup started")
		if m.chat != nil {
			m.chat.Disconnect()
		}
		if m.rootCancel != nil {
			m.rootCancel()
		}
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
		m.logger.Debug("tui cleanup complete")
	})
}
