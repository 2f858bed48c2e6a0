// Package store keeps the session's ordered message list and decides which
// of the local user's messages may still be recalled.
package store

import (
	"errors"
	"sync"
	"time"

	"github.com/chatdao/chatdao/internal/protocol"
)

// RecallWindow is how long after receipt an own message may be recalled.
const RecallWindow = 120 * time.Second

var (
	ErrNotOwned      = errors.New("message is not yours or no longer exists")
	ErrWindowExpired = errors.New("recall window has expired")
)

type Kind int

const (
	KindText Kind = iota
	KindImage
)

func (k Kind) String() string {
	if k == KindImage {
		return "image"
	}
	return "text"
}

type Message struct {
	ID             string
	Author         string
	Kind           Kind
	Event          string
	Content        string
	FileName       string
	ReceivedAt     time.Time
	Own            bool
	RecallDeadline time.Time
}

// RecallableAt reports whether the message may still be recalled at now.
func (m Message) RecallableAt(now time.Time) bool {
	return m.Own && now.Before(m.RecallDeadline)
}

// Sender delivers an envelope to the server.
type Sender interface {
	Send(protocol.Envelope) error
}

// Identity supplies the current display name.
type Identity interface {
	DisplayName() string
}

type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type Store struct {
	mu       sync.Mutex
	identity Identity
	sender   Sender
	now      func() time.Time
	messages []Message
	byID     map[string]int
	own      map[string]time.Time
}

func New(identity Identity, sender Sender, opts ...Option) *Store {
	s := &Store{
		identity: identity,
		sender:   sender,
		now:      time.Now,
		byID:     make(map[string]int),
		own:      make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Insert appends msg in arrival order and returns the stored record. A
// message whose id is already present is not stored again and ok is false.
func (s *Store) Insert(msg Message) (stored Message, ok bool) {
	name := s.identity.DisplayName()

	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID != "" {
		if idx, exists := s.byID[msg.ID]; exists {
			return s.messages[idx], false
		}
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = s.now()
	}
	msg.Own = false
	msg.RecallDeadline = time.Time{}
	if name != "" && msg.Author == name && msg.ID != "" {
		msg.Own = true
		msg.RecallDeadline = msg.ReceivedAt.Add(RecallWindow)
		s.own[msg.ID] = msg.RecallDeadline
	}

	s.messages = append(s.messages, msg)
	if msg.ID != "" {
		s.byID[msg.ID] = len(s.messages) - 1
	}
	return msg, true
}

// Remove deletes the message with id. Removing an unknown id is a no-op.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byID[id]
	if !ok {
		return false
	}
	s.messages = append(s.messages[:idx], s.messages[idx+1:]...)
	delete(s.byID, id)
	delete(s.own, id)
	for i := idx; i < len(s.messages); i++ {
		if s.messages[i].ID != "" {
			s.byID[s.messages[i].ID] = i
		}
	}
	return true
}

// RequestRecall asks the server to recall id. The local copy stays until
// the server echoes the recall back.
func (s *Store) RequestRecall(id string) error {
	s.mu.Lock()
	deadline, ok := s.own[id]
	now := s.now()
	s.mu.Unlock()

	if !ok {
		return ErrNotOwned
	}
	if !now.Before(deadline) {
		return ErrWindowExpired
	}
	return s.sender.Send(protocol.Envelope{
		Event:     protocol.EventRecallMessage,
		Name:      s.identity.DisplayName(),
		MessageID: id,
	})
}

// Clear drops every message, used before history is reloaded.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.byID = make(map[string]int)
	s.own = make(map[string]time.Time)
}

// Messages returns a copy of the messages in arrival order.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Store) Get(id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[id]
	if !ok {
		return Message{}, false
	}
	return s.messages[idx], true
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// LastOwn returns the id of the newest own message, recallable or not.
func (s *Store) LastOwn() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Own {
			return s.messages[i].ID, true
		}
	}
	return "", false
}

// Now is the store's clock reading.
func (s *Store) Now() time.Time {
	return s.now()
}
