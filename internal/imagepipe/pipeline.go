// Package imagepipe validates, encodes and sends image attachments. Only one
// submission may be in flight at a time.
package imagepipe

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/chatdao/chatdao/internal/metrics"
	"github.com/chatdao/chatdao/internal/protocol"
	"github.com/chatdao/chatdao/internal/validate"
)

// MaxImageSize is the largest accepted image, in bytes.
const MaxImageSize int64 = 2 << 20

// sniffLen is how much of the file is read to detect its type.
const sniffLen = 3072

var (
	ErrBusy            = errors.New("an image upload is already in progress")
	ErrUnsupportedType = errors.New("unsupported image type")
	ErrTooLarge        = errors.New("image too large")
	ErrReadError       = errors.New("could not read image")
)

var allowedTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// TooLargeError reports the rejected size. It matches ErrTooLarge.
type TooLargeError struct {
	Size  int64
	Limit int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("image too large: %s (limit %s)",
		humanize.IBytes(uint64(e.Size)), humanize.IBytes(uint64(e.Limit)))
}

func (e *TooLargeError) Is(target error) bool { return target == ErrTooLarge }

type State int

const (
	StateIdle State = iota
	StateValidating
	StateEncoding
	StateSending
)

func (s State) String() string {
	switch s {
	case StateValidating:
		return "validating"
	case StateEncoding:
		return "encoding"
	case StateSending:
		return "sending"
	default:
		return "idle"
	}
}

type Sender interface {
	Send(protocol.Envelope) error
}

type Identity interface {
	DisplayName() string
}

type Option func(*Pipeline)

// WithStateHook is called on every state transition, outside the lock.
func WithStateHook(fn func(State)) Option {
	return func(p *Pipeline) { p.onState = fn }
}

// WithIDGenerator replaces uuid.NewString for message ids.
func WithIDGenerator(fn func() string) Option {
	return func(p *Pipeline) { p.newID = fn }
}

type Pipeline struct {
	mu       sync.Mutex
	state    State
	identity Identity
	sender   Sender
	onState  func(State)
	newID    func() string
}

func New(identity Identity, sender Sender, opts ...Option) *Pipeline {
	p := &Pipeline{
		identity: identity,
		sender:   sender,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Submit runs f through validation, encoding and sending and returns the
// id of the sent message. Nothing is inserted locally; the image appears
// when the server echoes it back.
func (p *Pipeline) Submit(ctx context.Context, f File) (string, error) {
	if !p.begin() {
		metrics.ImageSubmissions.WithLabelValues("busy").Inc()
		return "", ErrBusy
	}
	defer p.transition(StateIdle)

	id, err := p.run(ctx, f)
	metrics.ImageSubmissions.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		log.Debug().Err(err).Str("file_name", validate.SanitizeFileName(f.Name())).Msg("image submission rejected")
		return "", err
	}
	return id, nil
}

func (p *Pipeline) run(ctx context.Context, f File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrReadError, err)
	}
	defer rc.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(rc, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("%w: %v", ErrReadError, err)
	}
	head = head[:n]

	mime := mimetype.Detect(head)
	if !mimetype.EqualsAny(mime.String(), allowedTypes...) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mime.String())
	}
	if size := f.Size(); size > MaxImageSize {
		return "", &TooLargeError{Size: size, Limit: MaxImageSize}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.transition(StateEncoding)
	var buf bytes.Buffer
	buf.Write(head)
	rest, err := buf.ReadFrom(io.LimitReader(rc, MaxImageSize+1-int64(n)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrReadError, err)
	}
	if total := int64(n) + rest; total > MaxImageSize {
		return "", &TooLargeError{Size: total, Limit: MaxImageSize}
	}
	payload := "data:" + mime.String() + ";base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.transition(StateSending)
	id := p.newID()
	env := protocol.Envelope{
		Event:     protocol.EventChatImage,
		Name:      p.identity.DisplayName(),
		Data:      payload,
		MessageID: id,
		FileName:  validate.SanitizeFileName(f.Name()),
		Type:      protocol.TypeImage,
	}
	if err := p.sender.Send(env); err != nil {
		return "", err
	}
	return id, nil
}

func (p *Pipeline) begin() bool {
	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return false
	}
	p.state = StateValidating
	hook := p.onState
	p.mu.Unlock()
	if hook != nil {
		hook(StateValidating)
	}
	return true
}

func (p *Pipeline) transition(next State) {
	p.mu.Lock()
	p.state = next
	hook := p.onState
	p.mu.Unlock()
	if hook != nil {
		hook(next)
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "sent"
	case errors.Is(err, ErrUnsupportedType):
		return "unsupported"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	case errors.Is(err, ErrReadError):
		return "read_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "send_error"
	}
}
