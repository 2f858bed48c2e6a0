package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/chatdao/chatdao/internal/conn"
	"github.com/chatdao/chatdao/internal/validate"
)

// nameModel asks for the display name before the user can chat.
type nameModel struct {
	nameInput  textinput.Model
	server     string
	state      conn.State
	submitting bool
	errMsg     string
	width      int
	height     int
}

func newNameModel(server string) nameModel {
	input := textinput.New()
	input.Placeholder = fmt.Sprintf("display name (1-%d chars)", validate.MaxUsernameLen)
	input.CharLimit = validate.MaxUsernameLen
	input.Width = 40
	input.Focus()

	return nameModel{
		nameInput: input,
		server:    server,
	}
}

func (m nameModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m nameModel) name() string { return strings.TrimSpace(m.nameInput.Value()) }

func (m nameModel) validateSubmit() string {
	if _, err := validate.Username(m.nameInput.Value()); err != nil {
		return fmt.Sprintf("name must be 1-%d letters, digits, spaces, _ or -", validate.MaxUsernameLen)
	}
	return ""
}

func (m nameModel) Update(msg tea.Msg) (nameModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case sessionStateMsg:
		m.state = msg.state
		return m, nil

	case tea.KeyMsg:
		m.errMsg = ""
		if msg.String() == "enter" {
			if errMsg := m.validateSubmit(); errMsg != "" {
				m.errMsg = errMsg
				return m, nil
			}
			m.submitting = true
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.nameInput, cmd = m.nameInput.Update(msg)
	return m, cmd
}

func (m nameModel) View() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(centerText(appNameStyle.Render("* chatdao"), m.width))
	b.WriteString("\n")
	b.WriteString(centerText(subtitleStyle.Render("group chat"), m.width))
	b.WriteString("\n\n")

	b.WriteString(centerText(labelStyle.Render("server  ")+m.server+"  "+stateLabel(m.state), m.width))
	b.WriteString("\n\n")

	b.WriteString(centerText(activeInputStyle.Render("name  ")+m.nameInput.View(), m.width))
	b.WriteString("\n\n")

	if m.errMsg != "" {
		b.WriteString(centerText(errorStyle.Render("x "+m.errMsg), m.width))
		b.WriteString("\n\n")
	}

	b.WriteString(centerText(helpStyle.Render("enter: join - ctrl+q: quit"), m.width))

	if m.height > 0 {
		lines := strings.Count(b.String(), "\n") + 1
		if pad := (m.height - lines) / 3; pad > 0 {
			return strings.Repeat("\n", pad) + b.String()
		}
	}
	return b.String()
}

func stateLabel(s conn.State) string {
	switch s {
	case conn.StateOpen:
		return connectedStyle.Render("online")
	case conn.StateConnecting:
		return connectingStyle.Render("connecting")
	default:
		return disconnectedStyle.Render("offline")
	}
}
