package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chatdao/chatdao/internal/conn"
	"github.com/chatdao/chatdao/internal/imagepipe"
	"github.com/chatdao/chatdao/internal/store"
)

func setTestConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("XDG_CACHE_HOME", dir)
	t.Setenv("HOME", dir)
	return dir
}

type fakeSession struct {
	name     string
	state    conn.State
	roster   []string
	now      time.Time
	sendErr  error
	sent     []string
	recalled []string
	images   []string
	closed   bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		state: conn.StateOpen,
		now:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (s *fakeSession) SetDisplayName(name string) error {
	if name == "bad!" {
		return errors.New("invalid display name")
	}
	s.name = name
	return nil
}

func (s *fakeSession) SendText(text string) error {
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, text)
	return nil
}

func (s *fakeSession) Recall(id string) error {
	s.recalled = append(s.recalled, id)
	return nil
}

func (s *fakeSession) RecallLast() error {
	s.recalled = append(s.recalled, "<last>")
	return nil
}

func (s *fakeSession) SubmitImage(_ context.Context, f imagepipe.File) error {
	s.images = append(s.images, f.Name())
	return nil
}

func (s *fakeSession) DisplayName() string { return s.name }
func (s *fakeSession) State() conn.State   { return s.state }
func (s *fakeSession) Roster() []string    { return s.roster }
func (s *fakeSession) Now() time.Time      { return s.now }
func (s *fakeSession) Close()              { s.closed = true }

func newChatForTest(t *testing.T) (chatModel, *fakeSession) {
	t.Helper()
	s := newFakeSession()
	s.name = "alice"
	return newChatModel(s, 80, 24), s
}

func ownMessage(s *fakeSession, id, text string) store.Message {
	return store.Message{
		ID:             id,
		Author:         s.name,
		Kind:           store.KindText,
		Event:          "chat_text",
		Content:        text,
		ReceivedAt:     s.now,
		Own:            true,
		RecallDeadline: s.now.Add(store.RecallWindow),
	}
}

func lastNotice(m chatModel) string {
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].msg == nil {
			return m.entries[i].notice
		}
	}
	return ""
}
