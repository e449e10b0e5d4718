package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"parley/internal/logging"
	"parley/internal/runstatus"
)

const (
	minChatHeight     = 5
	chatLayoutReserve = 7
)

func (m *chatModel) View() string {
	if m.quitting {
		return ""
	}
	if m.screen == screenAuth {
		return m.authView()
	}
	return m.chatScreenView()
}

func (m *chatModel) authView() string {
	title := "Sign in to Parley"
	if m.registering {
		title = "Create a Parley account"
	}

	rows := []string{
		titleStyle.Render(title),
		"",
		m.authField("Server", inputServer),
		m.authField("Email", inputEmail),
		m.authField("Password", inputPassword),
	}
	if m.registering {
		rows = append(rows, m.authField("Name", inputName))
	}
	if m.errText != "" {
		rows = append(rows, "", errorStyle.Render(logging.Truncate(m.errText)))
	}

	help := "enter: sign in · ctrl+r: register · esc: quit"
	if m.registering {
		help = "enter: create account · ctrl+r: back to sign-in · esc: quit"
	}
	rows = append(rows, "", helpStyle.Render(help))

	panel := panelStyle.Render(strings.Join(rows, "\n"))
	if m.width > 0 && m.height > 0 {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, panel)
	}
	return panel
}

func (m *chatModel) authField(label string, index int) string {
	style := labelStyle
	if index == m.focusIdx {
		style = focusStyle
	}
	return style.Render(label+": ") + m.inputs[index].View()
}

func (m *chatModel) chatScreenView() string {
	var b strings.Builder

	b.WriteString(m.headerView())
	b.WriteString("\n")
	b.WriteString(panelStyle.Render(m.chatView.View()))
	b.WriteString("\n")
	b.WriteString(m.messageInput.View())
	b.WriteString("\n")
	if m.errText != "" {
		b.WriteString(errorStyle.Render(logging.Truncate(m.errText)))
	} else {
		b.WriteString(helpStyle.Render(logging.Truncate(m.lastLog)))
	}
	return b.String()
}

func (m *chatModel) headerView() string {
	badge := m.statusBadge()
	parts := []string{badge}
	if m.room != "" {
		parts = append(parts, roomStyle.Render("#"+m.room))
	}
	if m.identityEmail != "" {
		parts = append(parts, labelStyle.Render(m.identityEmail))
	}
	parts = append(parts, helpStyle.Render("/join /leave /logout /quit"))
	return lipgloss.JoinHorizontal(lipgloss.Center, strings.Join(parts, " "))
}

func (m *chatModel) statusBadge() string {
	status := m.status
	if strings.TrimSpace(status) == "" {
		status = runstatus.Disconnected
	}
	switch m.kind {
	case statusConnecting:
		return statusConnectingStyle.Render(status)
	case statusConnected:
		return statusConnectedStyle.Render(status)
	case statusError:
		return statusErrorStyle.Render(status)
	default:
		return statusIdleStyle.Render(status)
	}
}

func (m *chatModel) resizeChatView() {
	width := m.width - 4
	if width < 20 {
		width = 20
	}
	height := m.height - chatLayoutReserve
	if height < minChatHeight {
		height = minChatHeight
	}
	m.chatView.Width = width
	m.chatView.Height = height
	m.messageInput.Width = width
	m.refreshChatView(m.chatView.AtBottom())
}

func (m *chatModel) refreshChatView(gotoBottom bool) {
	lines := make([]string, 0, len(m.messages))
	for _, message := range m.messages {
		style := senderStyle
		if m.identityEmail != "" && message.Sender.Email == m.identityEmail {
			style = ownStyle
		}
		lines = append(lines, style.Render(message.Sender.Email)+" "+message.Content)
	}
	if len(lines) == 0 {
		if m.room == "" {
			lines = append(lines, helpStyle.Render("Not in a room. /join <room> to start."))
		} else {
			lines = append(lines, helpStyle.Render("No messages yet."))
		}
	}
	m.chatView.SetContent(strings.Join(lines, "\n"))
	if gotoBottom {
		m.chatView.GotoBottom()
	}
}
