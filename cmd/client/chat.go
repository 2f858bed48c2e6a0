package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/chatdao/chatdao/internal/conn"
	"github.com/chatdao/chatdao/internal/imagepipe"
	"github.com/chatdao/chatdao/internal/protocol"
	"github.com/chatdao/chatdao/internal/store"
	"github.com/chatdao/chatdao/internal/validate"
)

const (
	sidebarWidth = 26
	recallTick   = time.Second
)

const helpText = "/name <name> | /image <path> | /recall [id] | /who | /help"

// entry is one line in the transcript: either a stored message or a
// local notice.
type entry struct {
	msg    *store.Message
	notice string
	at     time.Time
}

type chatModel struct {
	session        session
	entries        []entry
	roster         []string
	state          conn.State
	upload         imagepipe.State
	sidebarVisible bool
	viewport       viewport.Model
	input          textinput.Model
	errMsg         string
	width          int
	height         int
}

type recallTickMsg struct{}

type imageDoneMsg struct{ err error }

func newChatModel(s session, width, height int) chatModel {
	input := textinput.New()
	input.Placeholder = "type a message..."
	input.CharLimit = validate.MaxMessageLen
	input.Width = clampMin(width-8, 20)
	input.Focus()

	vp := viewport.New(clampMin(width-4, 10), clampMin(height-7, 1))

	return chatModel{
		session:  s,
		roster:   s.Roster(),
		state:    s.State(),
		viewport: vp,
		input:    input,
		width:    width,
		height:   height,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, scheduleRecallTick())
}

func scheduleRecallTick() tea.Cmd {
	return tea.Tick(recallTick, func(time.Time) tea.Msg {
		return recallTickMsg{}
	})
}

func (m chatModel) Update(msg tea.Msg) (chatModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateLayout()
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			cmd := m.sendCurrentMessage()
			return m, cmd

		case "ctrl+u":
			m.sidebarVisible = !m.sidebarVisible
			m.updateLayout()
			m.refreshViewport()
			return m, nil

		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case messageRenderedMsg:
		stored := msg.msg
		m.entries = append(m.entries, entry{msg: &stored, at: stored.ReceivedAt})
		m.refreshViewport()
		return m, nil

	case messageRecalledMsg:
		m.removeMessage(msg.id)
		m.refreshViewport()
		return m, nil

	case messagesClearedMsg:
		kept := m.entries[:0]
		for _, e := range m.entries {
			if e.msg == nil {
				kept = append(kept, e)
			}
		}
		m.entries = kept
		m.refreshViewport()
		return m, nil

	case noticeMsg:
		m.appendNotice(msg.text)
		return m, nil

	case rosterMsg:
		m.roster = msg.names
		return m, nil

	case sessionStateMsg:
		m.state = msg.state
		return m, nil

	case uploadStateMsg:
		m.upload = msg.state
		return m, nil

	case imageDoneMsg:
		if msg.err != nil {
			m.errMsg = msg.err.Error()
		}
		return m, nil

	case recallTickMsg:
		if m.hasRecallable() {
			m.refreshViewport()
		}
		return m, scheduleRecallTick()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *chatModel) sendCurrentMessage() tea.Cmd {
	body := strings.TrimSpace(m.input.Value())
	if body == "" {
		return nil
	}
	m.errMsg = ""
	if strings.HasPrefix(body, "/") {
		cmd := m.handleCommand(body)
		m.input.Reset()
		return cmd
	}
	if err := m.session.SendText(body); err != nil {
		return nil
	}
	m.input.Reset()
	return nil
}

func (m *chatModel) handleCommand(raw string) tea.Cmd {
	parts := strings.Fields(raw)
	if len(parts) == 0 {
		return nil
	}
	arg := strings.TrimSpace(strings.TrimPrefix(raw, parts[0]))

	switch strings.ToLower(parts[0]) {
	case "/help":
		m.appendNotice(helpText)
	case "/name":
		if arg == "" {
			m.appendNotice("usage: /name <name>")
			return nil
		}
		_ = m.session.SetDisplayName(arg)
	case "/image":
		if arg == "" {
			m.appendNotice("usage: /image <path>")
			return nil
		}
		return submitImage(m.session, arg)
	case "/recall":
		m.recall(arg)
	case "/who":
		if len(m.roster) == 0 {
			m.appendNotice("nobody online")
			return nil
		}
		m.appendNotice(fmt.Sprintf("online (%d): %s", len(m.roster), strings.Join(m.roster, ", ")))
	default:
		m.appendNotice("unknown command, try /help")
	}
	return nil
}

func (m *chatModel) recall(prefix string) {
	if prefix == "" {
		_ = m.session.RecallLast()
		return
	}
	for i := len(m.entries) - 1; i >= 0; i-- {
		msg := m.entries[i].msg
		if msg != nil && msg.Own && strings.HasPrefix(msg.ID, prefix) {
			_ = m.session.Recall(msg.ID)
			return
		}
	}
	m.errMsg = "no message of yours matches " + prefix
}

// submitImage runs the upload off the UI goroutine. Pipeline failures are
// reported by the session as notices.
func submitImage(s session, path string) tea.Cmd {
	return func() tea.Msg {
		f, err := imagepipe.OpenFile(path)
		if err != nil {
			return imageDoneMsg{err: fmt.Errorf("open image: %w", err)}
		}
		_ = s.SubmitImage(context.Background(), f)
		return imageDoneMsg{}
	}
}

func (m *chatModel) appendNotice(text string) {
	m.entries = append(m.entries, entry{notice: text, at: m.session.Now()})
	m.refreshViewport()
}

func (m *chatModel) removeMessage(id string) {
	for i, e := range m.entries {
		if e.msg != nil && e.msg.ID == id {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			return
		}
	}
}

func (m *chatModel) hasRecallable() bool {
	now := m.session.Now()
	for _, e := range m.entries {
		if e.msg != nil && e.msg.RecallableAt(now) {
			return true
		}
	}
	return false
}

func (m *chatModel) refreshViewport() {
	m.viewport.SetContent(m.renderMessages())
	m.viewport.GotoBottom()
}

func (m *chatModel) updateLayout() {
	width := m.width - 4
	if m.sidebarVisible {
		width -= sidebarWidth
	}
	m.viewport.Width = clampMin(width, 10)
	m.viewport.Height = clampMin(m.height-7, 1)
	m.input.Width = clampMin(m.width-8, 20)
}

func (m *chatModel) renderMessages() string {
	if len(m.entries) == 0 {
		return labelStyle.Render("  No messages yet. Send one to start chatting!")
	}

	now := m.session.Now()
	var b strings.Builder
	for _, e := range m.entries {
		ts := e.at.Local().Format("15:04")
		if e.msg == nil {
			for _, line := range formatMessageLines(ts, "", e.notice, m.viewport.Width, true) {
				b.WriteString(labelStyle.Render(line))
				b.WriteString("\n")
			}
			continue
		}

		msg := e.msg
		style := recvMsgStyle
		if msg.Own {
			style = sentMsgStyle
		}
		body, system := messageBody(*msg)
		switch {
		case system:
			style = presenceStyle
		case msg.Kind == store.KindImage:
			style = imageStyle
		}

		lines := formatMessageLines(ts, msg.Author, body, m.viewport.Width, system)
		for i, line := range lines {
			b.WriteString(style.Render(line))
			if i == len(lines)-1 && msg.RecallableAt(now) {
				b.WriteString(recallHintStyle.Render(recallHint(*msg, now)))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// messageBody returns the text shown for msg and whether it is a presence
// line rather than something a user said.
func messageBody(msg store.Message) (string, bool) {
	switch msg.Event {
	case protocol.EventEnterRoom:
		return msg.Author + " joined", true
	case protocol.EventLeaveRoom:
		return msg.Author + " left", true
	}
	if msg.Kind == store.KindImage {
		name := msg.FileName
		if name == "" {
			name = "image"
		}
		return fmt.Sprintf("[image] %s (%s)", name, humanize.Bytes(imageBytes(msg.Content))), false
	}
	switch msg.Event {
	case protocol.EventChatText, "":
		return msg.Content, false
	default:
		return fmt.Sprintf("[%s] %s", msg.Event, msg.Content), false
	}
}

// imageBytes estimates the decoded size of a base64 data URI.
func imageBytes(dataURI string) uint64 {
	payload := dataURI
	if i := strings.IndexByte(dataURI, ','); i >= 0 {
		payload = dataURI[i+1:]
	}
	n := base64.StdEncoding.DecodedLen(len(payload)) - strings.Count(payload, "=")
	if n < 0 {
		return 0
	}
	return uint64(n)
}

func recallHint(msg store.Message, now time.Time) string {
	left := msg.RecallDeadline.Sub(now).Round(time.Second)
	return fmt.Sprintf("  [%s recall %s]", shortID(msg.ID), left)
}

func (m *chatModel) renderSidebar() string {
	lines := make([]string, 0, len(m.roster)+3)
	lines = append(lines, sidebarTitleStyle.Render(fmt.Sprintf("Online (%d)", len(m.roster))), "")
	if len(m.roster) == 0 {
		lines = append(lines, labelStyle.Render("(none)"))
	}
	for _, name := range m.roster {
		display := trimLine(name, sidebarWidth-4)
		if name == m.session.DisplayName() {
			display += labelStyle.Render(" (you)")
		}
		lines = append(lines, fmt.Sprintf("%s %s", sidebarOnlineStyle.Render("*"), display))
	}
	return sidebarBoxStyle.Width(sidebarWidth).Render(strings.Join(lines, "\n"))
}

func (m chatModel) View() string {
	var b strings.Builder

	header := fmt.Sprintf(
		"  %s  %s  %s",
		appNameStyle.Render("* chatdao"),
		headerStyle.Render(m.session.DisplayName()),
		labelStyle.Render(fmt.Sprintf("%d online", len(m.roster))),
	)
	status := stateLabel(m.state)
	if m.upload != imagepipe.StateIdle {
		status = imageStyle.Render("image: "+m.upload.String()) + "  " + status
	}
	gap := max(1, m.width-lipgloss.Width(header)-lipgloss.Width(status)-2)
	b.WriteString(header + strings.Repeat(" ", gap) + status)
	b.WriteString("\n")

	b.WriteString(separator(m.width))
	b.WriteString("\n")

	chatContent := m.viewport.View()
	if m.sidebarVisible {
		chatContent = lipgloss.JoinHorizontal(lipgloss.Top, m.viewport.View(), m.renderSidebar())
	}
	b.WriteString(chatContent)
	b.WriteString("\n")

	b.WriteString(separator(m.width))
	b.WriteString("\n")

	b.WriteString(activeInputStyle.Render("  > ") + m.input.View())
	b.WriteString("\n")

	if m.errMsg != "" {
		b.WriteString(errorStyle.Render("  x " + m.errMsg))
	} else {
		b.WriteString(helpStyle.Render("  enter: send - /help in chat - ctrl+u: who's online - pgup/pgdn: scroll - ctrl+q: quit"))
	}

	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func clampMin(v, minimum int) int {
	if v < minimum {
		return minimum
	}
	return v
}

func trimLine(line string, max int) string {
	if max <= 0 || len(line) <= max {
		return line
	}
	if max <= 3 {
		return line[:max]
	}
	return line[:max-3] + "..."
}

func formatMessageLines(ts, sender, body string, width int, isSystem bool) []string {
	prefix := fmt.Sprintf("  [%s] ", ts)
	if !isSystem {
		prefix = fmt.Sprintf("  [%s] %s: ", ts, sender)
	}
	contPrefix := strings.Repeat(" ", len(prefix))
	available := width - len(prefix)
	if available < 10 {
		available = 10
	}

	var out []string
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		wrapped := wrapText(line, available)
		for j, part := range wrapped {
			if i == 0 && j == 0 {
				out = append(out, prefix+part)
				continue
			}
			out = append(out, contPrefix+part)
		}
	}
	return out
}

func wrapText(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{""}
	}
	var lines []string
	current := words[0]
	for _, word := range words[1:] {
		if len(current)+1+len(word) <= width {
			current = current + " " + word
			continue
		}
		lines = append(lines, current)
		current = word
	}
	lines = append(lines, current)
	return lines
}
