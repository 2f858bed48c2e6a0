package conn

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/chatdao/chatdao/internal/protocol"
)

type fakeTransport struct {
	in        chan []byte
	done      chan struct{}
	writes    chan []byte
	closeOnce sync.Once
	readErr   error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan []byte, 16),
		done:   make(chan struct{}),
		writes: make(chan []byte, 16),
	}
}

func (t *fakeTransport) Write(ctx context.Context, data []byte) error {
	select {
	case <-t.done:
		return errTransportClosed
	default:
	}
	t.writes <- data
	return nil
}

func (t *fakeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case data, ok := <-t.in:
		if !ok {
			if t.readErr != nil {
				return nil, t.readErr
			}
			return nil, io.EOF
		}
		return data, nil
	case <-t.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *fakeTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

// serverClose simulates the peer dropping the connection.
func (t *fakeTransport) serverClose() { close(t.in) }

type fakeDialer struct {
	mu         sync.Mutex
	dials      int
	err        error
	transports chan *fakeTransport
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{transports: make(chan *fakeTransport, 8)}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Transport, error) {
	d.mu.Lock()
	d.dials++
	err := d.err
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	t := newFakeTransport()
	d.transports <- t
	return t, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type manualTimer struct {
	s       *manualScheduler
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{s: s, d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *manualScheduler) pending(d time.Duration) []*manualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*manualTimer
	for _, t := range s.timers {
		if t.d == d && !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

func (s *manualScheduler) fire(t *manualTimer) {
	s.mu.Lock()
	t.fired = true
	s.mu.Unlock()
	t.f()
}

type recordingListener struct {
	mu      sync.Mutex
	states  []State
	envs    []protocol.Envelope
	errs    []error
	reloads int
	stateCh chan State
	envCh   chan protocol.Envelope
}

func newRecordingListener() *recordingListener {
	return &recordingListener{
		stateCh: make(chan State, 64),
		envCh:   make(chan protocol.Envelope, 64),
	}
}

func (l *recordingListener) StateChanged(s State) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
	l.stateCh <- s
}

func (l *recordingListener) Envelope(env protocol.Envelope) {
	l.mu.Lock()
	l.envs = append(l.envs, env)
	l.mu.Unlock()
	l.envCh <- env
}

func (l *recordingListener) HistoryReload() {
	l.mu.Lock()
	l.reloads++
	l.mu.Unlock()
}

func (l *recordingListener) TransportError(err error) {
	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()
}

func (l *recordingListener) envelopeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.envs)
}

func (l *recordingListener) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errs)
}

func waitState(t *testing.T, l *recordingListener, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-l.stateCh:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timeout waiting for state %s", want)
		}
	}
}

func waitWrite(t *testing.T, tr *fakeTransport) protocol.Envelope {
	t.Helper()
	select {
	case data := <-tr.writes:
		env, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("decode write: %v", err)
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for write")
	}
	return protocol.Envelope{}
}

func waitTransport(t *testing.T, d *fakeDialer) *fakeTransport {
	t.Helper()
	select {
	case tr := <-d.transports:
		return tr
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for dial")
	}
	return nil
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func (m *Manager) currentGen() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}
