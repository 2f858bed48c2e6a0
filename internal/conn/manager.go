package conn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/chatdao/chatdao/internal/metrics"
	"github.com/chatdao/chatdao/internal/protocol"
)

const (
	// ReconnectDelay is fixed: no backoff and no attempt cap.
	ReconnectDelay = 3 * time.Second
	// HistoryDelay separates enter_room from the history request.
	HistoryDelay = 500 * time.Millisecond
	DialTimeout  = 10 * time.Second
	WriteTimeout = 5 * time.Second
)

var ErrNotConnected = errors.New("not connected")

// Listener receives connection events. Calls are never made while the
// manager holds its lock.
type Listener interface {
	StateChanged(State)
	Envelope(protocol.Envelope)
	// HistoryReload fires right before get_history is sent.
	HistoryReload()
	TransportError(error)
}

type Option func(*Manager)

func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

func WithScheduler(s Scheduler) Option {
	return func(m *Manager) { m.sched = s }
}

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

type Manager struct {
	url      string
	dialer   Dialer
	sched    Scheduler
	listener Listener
	logger   zerolog.Logger

	mu        sync.Mutex
	session   Session
	gen       uint64
	transport Transport
	cancel    context.CancelFunc
	reconnect Timer
	history   Timer
	shutdown  bool
}

func NewManager(url string, listener Listener, opts ...Option) *Manager {
	m := &Manager{
		url:      url,
		dialer:   WSDialer{},
		sched:    realScheduler{},
		listener: listener,
		logger:   log.With().Str("component", "conn").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open starts a connection attempt with a fresh transport. It is a no-op
// while connecting, open, or after Close.
func (m *Manager) Open() {
	m.mu.Lock()
	if m.shutdown || m.session.State == StateConnecting || m.session.State == StateOpen {
		m.mu.Unlock()
		return
	}
	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	changed := m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	m.notifyState(changed, StateConnecting)
	go m.run(ctx, cancel, gen)
}

func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(ctx, DialTimeout)
	t, err := m.dialer.Dial(dialCtx, m.url)
	dialCancel()
	if err != nil {
		m.onError(gen, err)
		m.onClose(gen)
		return
	}
	if !m.onOpen(gen, t) {
		_ = t.Close()
		return
	}
	defer t.Close()

	for {
		data, err := t.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				m.onError(gen, err)
			}
			m.onClose(gen)
			return
		}
		m.onMessage(gen, data)
	}
}

func (m *Manager) onOpen(gen uint64, t Transport) bool {
	m.mu.Lock()
	if gen != m.gen || m.shutdown {
		m.mu.Unlock()
		return false
	}
	m.transport = t
	m.session.ReconnectAttempt = 0
	changed := m.setStateLocked(StateOpen)
	name := m.session.DisplayName
	m.mu.Unlock()

	m.logger.Info().Str("url", m.url).Msg("connected")
	m.notifyState(changed, StateOpen)
	if name != "" {
		if err := m.announce(gen, name); err != nil {
			m.logger.Warn().Err(err).Msg("enter room failed")
		}
	}
	return true
}

func (m *Manager) onMessage(gen uint64, data []byte) {
	if !m.current(gen) {
		return
	}
	env, err := protocol.Decode(data)
	if err != nil {
		metrics.MalformedEnvelopes.Inc()
		m.logger.Warn().Err(err).Int("len", len(data)).Msg("dropping malformed frame")
		return
	}
	metrics.EnvelopesReceived.WithLabelValues(eventLabel(env.Event)).Inc()
	m.logger.Debug().Object("envelope", env).Msg("received")
	m.listener.Envelope(env)
}

func (m *Manager) onError(gen uint64, err error) {
	if !m.current(gen) {
		return
	}
	m.logger.Warn().Err(err).Msg("transport error")
	m.listener.TransportError(err)
}

// onClose schedules exactly one reconnect. A close that arrives while a
// reconnect is already pending schedules nothing.
func (m *Manager) onClose(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.transport = nil
	if m.history != nil {
		m.history.Stop()
		m.history = nil
	}
	changed := m.setStateLocked(StateClosed)
	scheduled := false
	if !m.shutdown && m.reconnect == nil {
		m.session.ReconnectAttempt++
		m.reconnect = m.sched.AfterFunc(ReconnectDelay, m.fireReconnect)
		scheduled = true
	}
	attempt := m.session.ReconnectAttempt
	m.mu.Unlock()

	if scheduled {
		metrics.Reconnects.Inc()
		m.logger.Info().Int("attempt", attempt).Dur("delay", ReconnectDelay).Msg("connection closed, reconnecting")
	}
	m.notifyState(changed, StateClosed)
}

func (m *Manager) fireReconnect() {
	m.mu.Lock()
	m.reconnect = nil
	shutdown := m.shutdown
	m.mu.Unlock()
	if shutdown {
		return
	}
	m.Open()
}

// Join records the display name and, when connected, announces it with
// enter_room followed by a delayed history request.
func (m *Manager) Join(name string) error {
	m.mu.Lock()
	m.session.DisplayName = name
	open := m.session.State == StateOpen
	gen := m.gen
	m.mu.Unlock()

	if !open || name == "" {
		return nil
	}
	return m.announce(gen, name)
}

func (m *Manager) announce(gen uint64, name string) error {
	if err := m.Send(protocol.Envelope{Event: protocol.EventEnterRoom, Name: name}); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.shutdown {
		return nil
	}
	if m.history != nil {
		m.history.Stop()
	}
	m.history = m.sched.AfterFunc(HistoryDelay, func() { m.requestHistory(gen) })
	return nil
}

func (m *Manager) requestHistory(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.session.State != StateOpen {
		m.mu.Unlock()
		return
	}
	m.history = nil
	name := m.session.DisplayName
	m.mu.Unlock()

	m.listener.HistoryReload()
	if err := m.Send(protocol.Envelope{Event: protocol.EventGetHistory, Name: name}); err != nil {
		m.logger.Warn().Err(err).Msg("history request failed")
	}
}

// Send writes env to the server. It fails with ErrNotConnected unless the
// session is open.
func (m *Manager) Send(env protocol.Envelope) error {
	m.mu.Lock()
	t := m.transport
	open := m.session.State == StateOpen
	m.mu.Unlock()
	if !open || t == nil {
		return ErrNotConnected
	}

	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), WriteTimeout)
	defer cancel()
	if err := t.Write(ctx, data); err != nil {
		return fmt.Errorf("send %s: %w", env.Event, err)
	}
	metrics.EnvelopesSent.WithLabelValues(eventLabel(env.Event)).Inc()
	m.logger.Debug().Object("envelope", env).Msg("sent")
	return nil
}

// Close tears the session down for good: pending timers are stopped and no
// reconnect follows.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return
	}
	m.shutdown = true
	m.gen++
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
	if m.history != nil {
		m.history.Stop()
		m.history = nil
	}
	t := m.transport
	m.transport = nil
	cancel := m.cancel
	m.cancel = nil
	changed := m.setStateLocked(StateClosed)
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if t != nil {
		_ = t.Close()
	}
	m.notifyState(changed, StateClosed)
}

func (m *Manager) DisplayName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.DisplayName
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.State
}

func (m *Manager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.gen && !m.shutdown
}

func (m *Manager) setStateLocked(s State) bool {
	if m.session.State == s {
		return false
	}
	m.session.State = s
	return true
}

func (m *Manager) notifyState(changed bool, s State) {
	if changed {
		m.listener.StateChanged(s)
	}
}

func eventLabel(event string) string {
	switch event {
	case protocol.EventOnlineCount, protocol.EventOnlineUsers, protocol.EventEnterRoom,
		protocol.EventLeaveRoom, protocol.EventChatText, protocol.EventChatPhoto,
		protocol.EventChatImage, protocol.EventRecallMessage, protocol.EventGetHistory:
		return event
	default:
		return "other"
	}
}
