package main

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/chatdao/chatdao/internal/conn"
	"github.com/chatdao/chatdao/internal/imagepipe"
)

// session is the part of *chat.Client the terminal UI drives.
type session interface {
	SetDisplayName(name string) error
	SendText(text string) error
	Recall(id string) error
	RecallLast() error
	SubmitImage(ctx context.Context, f imagepipe.File) error
	DisplayName() string
	State() conn.State
	Roster() []string
	Now() time.Time
	Close()
}

type appState int

const (
	stateName appState = iota
	stateChat
)

type rootModel struct {
	session session
	events  <-chan tea.Msg
	state   appState
	name    nameModel
	chat    chatModel
	width   int
	height  int
}

func newRootModel(s session, events <-chan tea.Msg, server string) rootModel {
	m := rootModel{
		session: s,
		events:  events,
		state:   stateName,
		name:    newNameModel(server),
		chat:    newChatModel(s, 0, 0),
	}
	m.name.state = s.State()
	if s.DisplayName() != "" {
		m.state = stateChat
	}
	return m
}

func (m rootModel) Init() tea.Cmd {
	if m.state == stateChat {
		return tea.Batch(waitForEvent(m.events), m.chat.Init())
	}
	return tea.Batch(waitForEvent(m.events), m.name.Init())
}

func (m rootModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if wsm, ok := msg.(tea.WindowSizeMsg); ok {
		m.width = wsm.Width
		m.height = wsm.Height
		m.name, _ = m.name.Update(msg)
		m.chat, _ = m.chat.Update(msg)
		return m, nil
	}

	if km, ok := msg.(tea.KeyMsg); ok && km.String() == "ctrl+q" {
		m.session.Close()
		return m, tea.Quit
	}

	if _, ok := msg.(clientEvent); ok {
		var cmd tea.Cmd
		m.name, _ = m.name.Update(msg)
		m.chat, cmd = m.chat.Update(msg)
		return m, tea.Batch(cmd, waitForEvent(m.events))
	}

	switch m.state {
	case stateName:
		var cmd tea.Cmd
		m.name, cmd = m.name.Update(msg)
		if m.name.submitting {
			m.name.submitting = false
			if err := m.session.SetDisplayName(m.name.name()); err != nil {
				m.name.errMsg = err.Error()
				return m, cmd
			}
			m.state = stateChat
			return m, tea.Batch(cmd, m.chat.Init())
		}
		return m, cmd

	case stateChat:
		var cmd tea.Cmd
		m.chat, cmd = m.chat.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m rootModel) View() string {
	switch m.state {
	case stateName:
		return m.name.View()
	case stateChat:
		return m.chat.View()
	}
	return ""
}
