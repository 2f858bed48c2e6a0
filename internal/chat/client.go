// Package chat wires the connection, message store, roster and image
// pipeline into a single client session and exposes the user actions.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/chatdao/chatdao/internal/conn"
	"github.com/chatdao/chatdao/internal/imagepipe"
	"github.com/chatdao/chatdao/internal/prefs"
	"github.com/chatdao/chatdao/internal/protocol"
	"github.com/chatdao/chatdao/internal/roster"
	"github.com/chatdao/chatdao/internal/securelog"
	"github.com/chatdao/chatdao/internal/store"
	"github.com/chatdao/chatdao/internal/validate"
)

var (
	ErrNoDisplayName = errors.New("set a display name first")
	ErrRateLimited   = errors.New("sending too fast, slow down")
)

const (
	sendInterval = 300 * time.Millisecond
	sendBurst    = 5
)

// NameStore persists the display name.
type NameStore interface {
	LoadUsername() string
	SaveUsername(name string) error
}

type Options struct {
	// ServerURL is the server origin, e.g. https://chat.example.com.
	ServerURL string
	Names     NameStore
	Dialer    conn.Dialer
	Scheduler conn.Scheduler
	Clock     func() time.Time
	Limiter   *rate.Limiter
	Logger    *zerolog.Logger
}

type Client struct {
	obs      Observer
	logger   zerolog.Logger
	names    NameStore
	limiter  *rate.Limiter
	mgr      *conn.Manager
	store    *store.Store
	roster   *roster.Roster
	pipeline *imagepipe.Pipeline
	closed   atomic.Bool
}

func New(opts Options, obs Observer) (*Client, error) {
	endpoint, err := conn.EndpointURL(opts.ServerURL)
	if err != nil {
		return nil, err
	}
	if obs == nil {
		obs = NopObserver{}
	}

	c := &Client{
		obs:     obs,
		logger:  log.With().Str("component", "chat").Logger(),
		names:   opts.Names,
		limiter: opts.Limiter,
		roster:  roster.New(),
	}
	if opts.Logger != nil {
		c.logger = *opts.Logger
	}
	if c.names == nil {
		c.names = prefs.Store{}
	}
	if c.limiter == nil {
		c.limiter = rate.NewLimiter(rate.Every(sendInterval), sendBurst)
	}

	connOpts := []conn.Option{conn.WithLogger(c.logger.With().Str("component", "conn").Logger())}
	if opts.Dialer != nil {
		connOpts = append(connOpts, conn.WithDialer(opts.Dialer))
	}
	if opts.Scheduler != nil {
		connOpts = append(connOpts, conn.WithScheduler(opts.Scheduler))
	}
	c.mgr = conn.NewManager(endpoint, listener{c}, connOpts...)

	var storeOpts []store.Option
	if opts.Clock != nil {
		storeOpts = append(storeOpts, store.WithClock(opts.Clock))
	}
	c.store = store.New(c.mgr, c.mgr, storeOpts...)
	c.pipeline = imagepipe.New(c.mgr, c.mgr, imagepipe.WithStateHook(obs.UploadStateChanged))
	return c, nil
}

// Start restores a saved display name and opens the connection.
func (c *Client) Start() {
	if saved := c.names.LoadUsername(); saved != "" {
		if name, err := validate.Username(saved); err == nil {
			_ = c.mgr.Join(name)
		}
	}
	c.mgr.Open()
}

// Close ends the session without reconnecting.
func (c *Client) Close() {
	c.closed.Store(true)
	c.mgr.Close()
}

// SetDisplayName validates and saves name, then joins the room with it.
func (c *Client) SetDisplayName(name string) error {
	valid, err := validate.Username(name)
	if err != nil {
		return c.fail(fmt.Errorf("%w: use 1-%d letters, digits, spaces, _ or -", err, validate.MaxUsernameLen))
	}
	if err := c.names.SaveUsername(valid); err != nil {
		securelog.Error("save display name", err)
	}
	if err := c.mgr.Join(valid); err != nil {
		return c.fail(err)
	}
	c.obs.SystemNotice("display name set to " + valid)
	return nil
}

// SendText sends a chat message. The message shows up once the server
// broadcasts it back.
func (c *Client) SendText(text string) error {
	name := c.mgr.DisplayName()
	if name == "" {
		return c.fail(ErrNoDisplayName)
	}
	trimmed, err := validate.Message(text)
	if err != nil {
		return c.fail(err)
	}
	clean := validate.SanitizeText(trimmed)
	if clean == "" {
		return c.fail(validate.ErrInvalidMessage)
	}
	if !c.limiter.Allow() {
		return c.fail(ErrRateLimited)
	}
	return c.failIf(c.mgr.Send(protocol.Envelope{
		Event:     protocol.EventChatText,
		Name:      name,
		Data:      clean,
		MessageID: uuid.NewString(),
		Type:      protocol.TypeText,
	}))
}

// Recall asks the server to recall one of the user's own messages.
func (c *Client) Recall(id string) error {
	return c.failIf(c.store.RequestRecall(id))
}

// RecallLast recalls the newest own message.
func (c *Client) RecallLast() error {
	id, ok := c.store.LastOwn()
	if !ok {
		return c.fail(store.ErrNotOwned)
	}
	return c.Recall(id)
}

// SubmitImage runs f through the image pipeline.
func (c *Client) SubmitImage(ctx context.Context, f imagepipe.File) error {
	if c.mgr.DisplayName() == "" {
		return c.fail(ErrNoDisplayName)
	}
	_, err := c.pipeline.Submit(ctx, f)
	return c.failIf(err)
}

func (c *Client) DisplayName() string       { return c.mgr.DisplayName() }
func (c *Client) State() conn.State         { return c.mgr.State() }
func (c *Client) Session() conn.Session     { return c.mgr.Session() }
func (c *Client) Messages() []store.Message { return c.store.Messages() }
func (c *Client) Roster() []string          { return c.roster.Snapshot() }
func (c *Client) Now() time.Time            { return c.store.Now() }

func (c *Client) fail(err error) error {
	c.obs.SystemNotice(err.Error())
	return err
}

func (c *Client) failIf(err error) error {
	if err == nil {
		return nil
	}
	return c.fail(err)
}

// listener adapts connection events to the store, roster and observer.
type listener struct {
	c *Client
}

func (l listener) StateChanged(s conn.State) {
	l.c.obs.SessionStateChanged(s)
	switch s {
	case conn.StateOpen:
		l.c.obs.SystemNotice("connected")
	case conn.StateClosed:
		if !l.c.closed.Load() {
			l.c.obs.SystemNotice(fmt.Sprintf("connection lost, reconnecting in %s", conn.ReconnectDelay))
		}
	}
}

func (l listener) Envelope(env protocol.Envelope) {
	l.c.dispatch(env)
}

func (l listener) HistoryReload() {
	l.c.store.Clear()
	l.c.obs.MessagesCleared()
}

func (l listener) TransportError(err error) {
	l.c.obs.SystemNotice("connection error: " + err.Error())
}
