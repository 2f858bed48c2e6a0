package main

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/chatdao/chatdao/internal/conn"
	"github.com/chatdao/chatdao/internal/imagepipe"
	"github.com/chatdao/chatdao/internal/store"
)

// clientEvent marks messages produced by the chat session rather than by
// the terminal.
type clientEvent interface {
	clientEvent()
}

type messageRenderedMsg struct{ msg store.Message }
type messageRecalledMsg struct{ id string }
type messagesClearedMsg struct{}
type noticeMsg struct{ text string }
type rosterMsg struct{ names []string }
type sessionStateMsg struct{ state conn.State }
type uploadStateMsg struct{ state imagepipe.State }

func (messageRenderedMsg) clientEvent() {}
func (messageRecalledMsg) clientEvent() {}
func (messagesClearedMsg) clientEvent() {}
func (noticeMsg) clientEvent()          {}
func (rosterMsg) clientEvent()          {}
func (sessionStateMsg) clientEvent()    {}
func (uploadStateMsg) clientEvent()     {}

// eventBridge turns observer callbacks into Bubble Tea messages.
type eventBridge struct {
	ch   chan tea.Msg
	done chan struct{}
	once sync.Once
}

func newEventBridge() *eventBridge {
	return &eventBridge{
		ch:   make(chan tea.Msg, 256),
		done: make(chan struct{}),
	}
}

func (b *eventBridge) emit(msg tea.Msg) {
	select {
	case b.ch <- msg:
	case <-b.done:
	}
}

// stop unblocks pending emits once the program has exited.
func (b *eventBridge) stop() {
	b.once.Do(func() { close(b.done) })
}

func (b *eventBridge) events() <-chan tea.Msg { return b.ch }

func (b *eventBridge) RenderMessage(m store.Message)        { b.emit(messageRenderedMsg{msg: m}) }
func (b *eventBridge) MessageRecalled(id string)            { b.emit(messageRecalledMsg{id: id}) }
func (b *eventBridge) MessagesCleared()                     { b.emit(messagesClearedMsg{}) }
func (b *eventBridge) SystemNotice(text string)             { b.emit(noticeMsg{text: text}) }
func (b *eventBridge) RosterChanged(names []string)         { b.emit(rosterMsg{names: names}) }
func (b *eventBridge) SessionStateChanged(s conn.State)     { b.emit(sessionStateMsg{state: s}) }
func (b *eventBridge) UploadStateChanged(s imagepipe.State) { b.emit(uploadStateMsg{state: s}) }

func waitForEvent(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}
