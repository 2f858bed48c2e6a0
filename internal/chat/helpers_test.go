package chat

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/chatdao/chatdao/internal/conn"
	"github.com/chatdao/chatdao/internal/imagepipe"
	"github.com/chatdao/chatdao/internal/protocol"
	"github.com/chatdao/chatdao/internal/store"
)

type pipeTransport struct {
	in        chan []byte
	writes    chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (t *pipeTransport) Write(ctx context.Context, data []byte) error {
	t.writes <- data
	return nil
}

func (t *pipeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-t.in:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	case <-t.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *pipeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

type pipeDialer struct {
	transports chan *pipeTransport
}

func (d *pipeDialer) Dial(ctx context.Context, url string) (conn.Transport, error) {
	t := &pipeTransport{
		in:     make(chan []byte, 16),
		writes: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
	d.transports <- t
	return t, nil
}

type heldTimer struct {
	d time.Duration
	f func()

	mu   sync.Mutex
	done bool
}

func (t *heldTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.done
	t.done = true
	return was
}

// heldScheduler never fires on its own; tests call fireNext.
type heldScheduler struct {
	mu     sync.Mutex
	timers []*heldTimer
}

func (s *heldScheduler) AfterFunc(d time.Duration, f func()) conn.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &heldTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *heldScheduler) fireNext(t *testing.T, d time.Duration) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		var next *heldTimer
		for _, timer := range s.timers {
			timer.mu.Lock()
			if timer.d == d && !timer.done {
				next = timer
				timer.done = true
			}
			timer.mu.Unlock()
			if next != nil {
				break
			}
		}
		s.mu.Unlock()
		if next != nil {
			next.f()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no pending %s timer", d)
}

type memNames struct {
	mu   sync.Mutex
	name string
}

func (n *memNames) LoadUsername() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.name
}

func (n *memNames) SaveUsername(name string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.name = name
	return nil
}

type recorder struct {
	mu       sync.Mutex
	notices  []string
	rendered chan store.Message
	recalled chan string
	cleared  chan struct{}
	rosters  chan []string
	states   chan conn.State
	uploads  []imagepipe.State
}

func newRecorder() *recorder {
	return &recorder{
		rendered: make(chan store.Message, 32),
		recalled: make(chan string, 32),
		cleared:  make(chan struct{}, 32),
		rosters:  make(chan []string, 32),
		states:   make(chan conn.State, 32),
	}
}

func (r *recorder) RenderMessage(m store.Message) { r.rendered <- m }
func (r *recorder) MessageRecalled(id string)     { r.recalled <- id }
func (r *recorder) MessagesCleared()              { r.cleared <- struct{}{} }
func (r *recorder) RosterChanged(names []string)  { r.rosters <- names }
func (r *recorder) SessionStateChanged(s conn.State) {
	r.states <- s
}

func (r *recorder) SystemNotice(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, text)
}

func (r *recorder) UploadStateChanged(s imagepipe.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uploads = append(r.uploads, s)
}

func (r *recorder) lastNotice() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notices) == 0 {
		return ""
	}
	return r.notices[len(r.notices)-1]
}

type fixture struct {
	client *Client
	obs    *recorder
	sched  *heldScheduler
	names  *memNames
	dialer *pipeDialer
	tr     *pipeTransport
	clock  *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFixture(t *testing.T, savedName string) *fixture {
	t.Helper()
	f := &fixture{
		obs:    newRecorder(),
		sched:  &heldScheduler{},
		names:  &memNames{name: savedName},
		dialer: &pipeDialer{transports: make(chan *pipeTransport, 4)},
		clock:  &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	c, err := New(Options{
		ServerURL: "http://chat.test",
		Names:     f.names,
		Dialer:    f.dialer,
		Scheduler: f.sched,
		Clock:     f.clock.Now,
	}, f.obs)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.client = c
	t.Cleanup(c.Close)
	return f
}

// start opens the session and waits until the connection is up.
func (f *fixture) start(t *testing.T) {
	t.Helper()
	f.client.Start()
	select {
	case f.tr = <-f.dialer.transports:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for dial")
	}
	for {
		select {
		case s := <-f.obs.states:
			if s == conn.StateOpen {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for open")
		}
	}
}

func (f *fixture) push(t *testing.T, env protocol.Envelope) {
	t.Helper()
	data, err := protocol.Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	f.tr.in <- data
}

func (f *fixture) nextWrite(t *testing.T) protocol.Envelope {
	t.Helper()
	select {
	case data := <-f.tr.writes:
		env, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for outbound envelope")
	}
	return protocol.Envelope{}
}

func (f *fixture) noWrite(t *testing.T) {
	t.Helper()
	select {
	case data := <-f.tr.writes:
		t.Fatalf("unexpected outbound envelope %s", data)
	case <-time.After(20 * time.Millisecond):
	}
}

func waitRendered(t *testing.T, r *recorder) store.Message {
	t.Helper()
	select {
	case m := <-r.rendered:
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for rendered message")
	}
	return store.Message{}
}
