// Package roomtest provides an in-memory chat room that speaks the client
// protocol over websockets, for end-to-end tests of the client.
package roomtest

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"

	"github.com/chatdao/chatdao/internal/protocol"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second

	// DefaultMaxHistory is the number of chat messages replayed on get_history.
	DefaultMaxHistory = 200
)

// Hub is a single chat room. All room state is owned by the Run goroutine.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	incoming   chan incomingMessage
	queries    chan func()
	clients    map[*Client]struct{}
	online     map[string]*Client
	history    []protocol.Envelope
	maxHistory int
	count      atomic.Int64
}

func NewHub(maxHistory int) *Hub {
	if maxHistory <= 0 {
		maxHistory = DefaultMaxHistory
	}
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		incoming:   make(chan incomingMessage, 256),
		queries:    make(chan func()),
		clients:    make(map[*Client]struct{}),
		online:     make(map[string]*Client),
		maxHistory: maxHistory,
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				c.close(websocket.StatusGoingAway, "server shutdown")
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Add(1)
		case c := <-h.unregister:
			h.remove(c, websocket.StatusNormalClosure, "bye")
		case msg := <-h.incoming:
			h.handleIncoming(msg)
		case fn := <-h.queries:
			fn()
		}
	}
}

// ClientCount returns the number of connected sockets.
func (h *Hub) ClientCount() int64 {
	return h.count.Load()
}

// History returns the cached chat messages, oldest first.
func (h *Hub) History() []protocol.Envelope {
	var out []protocol.Envelope
	h.query(func() {
		out = append([]protocol.Envelope(nil), h.history...)
	})
	return out
}

// Online returns the sorted names that have entered the room.
func (h *Hub) Online() []string {
	var out []string
	h.query(func() {
		out = h.onlineNames()
	})
	return out
}

// DropAll closes every connection as if the server went away.
func (h *Hub) DropAll() {
	h.query(func() {
		for c := range h.clients {
			h.remove(c, websocket.StatusGoingAway, "restart")
		}
	})
}

func (h *Hub) query(fn func()) {
	done := make(chan struct{})
	h.queries <- func() {
		fn()
		close(done)
	}
	<-done
}

// ServeHTTP upgrades the request and joins the socket to the room.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(16 << 20)

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		conn:   conn,
		hub:    h,
		ctx:    ctx,
		cancel: cancel,
		send:   make(chan []byte, sendBuffer),
	}

	h.register <- client

	go client.writeLoop()
	client.readLoop()
}

type Client struct {
	conn      *websocket.Conn
	hub       *Hub
	ctx       context.Context
	cancel    context.CancelFunc
	send      chan []byte
	closeOnce sync.Once
	closed    bool
	name      string
}

func (c *Client) Send(msg []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) readLoop() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.ctx.Done():
		}
	}()

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			log.Debug().Err(err).Msg("room dropped malformed frame")
			continue
		}
		c.hub.incoming <- incomingMessage{client: c, env: env}
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				c.cancel()
				return
			}
		}
	}
}

func (c *Client) close(status websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.closed = true
		close(c.send)
		_ = c.conn.Close(status, reason)
		c.cancel()
	})
}

type incomingMessage struct {
	client *Client
	env    protocol.Envelope
}

func (h *Hub) remove(c *Client, status websocket.StatusCode, reason string) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	h.count.Add(-1)
	c.close(status, reason)

	if c.name == "" || h.online[c.name] != c {
		return
	}
	delete(h.online, c.name)
	h.broadcast(protocol.Envelope{
		Event:     protocol.EventLeaveRoom,
		Name:      c.name,
		Data:      "left the room",
		MessageID: uuid.NewString(),
	})
	h.broadcastOnline()
}

func (h *Hub) handleIncoming(msg incomingMessage) {
	if _, ok := h.clients[msg.client]; !ok {
		return
	}
	env := msg.env
	switch env.Event {
	case protocol.EventEnterRoom:
		msg.client.name = env.Name
		h.online[env.Name] = msg.client
		h.broadcast(env)
		h.broadcastOnline()
	case protocol.EventChatText, protocol.EventChatImage, protocol.EventChatPhoto:
		if env.MessageID == "" {
			env.MessageID = uuid.NewString()
		}
		h.cache(env)
		h.broadcast(env)
	case protocol.EventRecallMessage:
		h.uncache(env.MessageID)
		h.broadcast(env)
	case protocol.EventGetHistory:
		for _, past := range h.history {
			msg.client.sendEnvelope(past)
		}
	default:
		h.broadcast(env)
	}
}

func (h *Hub) cache(env protocol.Envelope) {
	h.history = append(h.history, env)
	if extra := len(h.history) - h.maxHistory; extra > 0 {
		h.history = append([]protocol.Envelope(nil), h.history[extra:]...)
	}
}

func (h *Hub) uncache(id string) {
	if id == "" {
		return
	}
	kept := h.history[:0]
	for _, env := range h.history {
		if env.MessageID != id {
			kept = append(kept, env)
		}
	}
	h.history = kept
}

func (h *Hub) broadcast(env protocol.Envelope) {
	data, err := protocol.Encode(env)
	if err != nil {
		return
	}
	for c := range h.clients {
		if !c.Send(data) {
			h.remove(c, websocket.StatusPolicyViolation, "slow consumer")
		}
	}
}

func (h *Hub) broadcastOnline() {
	h.broadcast(protocol.Envelope{
		Event: protocol.EventOnlineUsers,
		Name:  "system",
		Users: h.onlineNames(),
	})
}

func (h *Hub) onlineNames() []string {
	names := make([]string, 0, len(h.online))
	for name := range h.online {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Client) sendEnvelope(env protocol.Envelope) {
	data, err := protocol.Encode(env)
	if err != nil {
		return
	}
	_ = c.Send(data)
}
