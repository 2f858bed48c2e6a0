// Package protocol defines the JSON envelope exchanged with the chat server
// and classifies inbound envelopes into the events the client acts on.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ErrMalformedEnvelope is returned when an inbound frame is not a valid envelope.
var ErrMalformedEnvelope = errors.New("malformed envelope")

const (
	EventOnlineCount   = "online_count"
	EventOnlineUsers   = "online_users"
	EventEnterRoom     = "enter_room"
	EventLeaveRoom     = "leave_room"
	EventChatText      = "chat_text"
	EventChatPhoto     = "chat_photo"
	EventChatImage     = "chat_image"
	EventRecallMessage = "recall_message"
	EventGetHistory    = "get_history"
)

const (
	TypeText  = "text"
	TypeImage = "image"
)

// Envelope is a single protocol frame. Users is only populated for
// online_users, whose payload is a list instead of a string.
type Envelope struct {
	Event     string
	Name      string
	Data      string
	MessageID string
	FileName  string
	Type      string
	Users     []string
}

type wireEnvelope struct {
	Event string   `json:"event"`
	Data  wireData `json:"data"`
}

type wireData struct {
	Name      string          `json:"name"`
	Data      json.RawMessage `json:"data"`
	Type      string          `json:"type,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
	FileName  string          `json:"fileName,omitempty"`
}

// Decode parses a raw text frame.
func Decode(raw []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(raw, &w); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	event := strings.TrimSpace(w.Event)
	if event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event", ErrMalformedEnvelope)
	}

	env := Envelope{
		Event:     event,
		Name:      w.Data.Name,
		MessageID: w.Data.MessageID,
		FileName:  w.Data.FileName,
		Type:      w.Data.Type,
	}

	payload := bytes.TrimSpace(w.Data.Data)
	switch {
	case len(payload) == 0 || bytes.Equal(payload, []byte("null")):
	case payload[0] == '"':
		if err := json.Unmarshal(payload, &env.Data); err != nil {
			return Envelope{}, fmt.Errorf("%w: data: %v", ErrMalformedEnvelope, err)
		}
	case payload[0] == '[':
		var users []string
		if err := json.Unmarshal(payload, &users); err != nil {
			return Envelope{}, fmt.Errorf("%w: user list: %v", ErrMalformedEnvelope, err)
		}
		env.Users = users
	default:
		// Counts and other scalars are kept verbatim.
		env.Data = string(payload)
	}

	if env.Event == EventOnlineUsers && env.Users == nil && env.Data != "" {
		return Envelope{}, fmt.Errorf("%w: online_users without a user list", ErrMalformedEnvelope)
	}
	return env, nil
}

// Encode renders the envelope in wire form.
func Encode(env Envelope) ([]byte, error) {
	if env.Event == "" {
		return nil, fmt.Errorf("%w: missing event", ErrMalformedEnvelope)
	}
	var payload any = env.Data
	if env.Event == EventOnlineUsers {
		users := env.Users
		if users == nil {
			users = []string{}
		}
		payload = users
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEnvelope{
		Event: env.Event,
		Data: wireData{
			Name:      env.Name,
			Data:      data,
			Type:      env.Type,
			MessageID: env.MessageID,
			FileName:  env.FileName,
		},
	})
}

// IsImage reports whether the envelope carries an image payload.
func (e Envelope) IsImage() bool {
	return e.Event == EventChatImage || e.Event == EventChatPhoto || e.Type == TypeImage
}

// MarshalZerologObject writes a log-safe summary. Text and image payloads
// are reduced to their length.
func (e Envelope) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("event", e.Event).Str("name", e.Name)
	if e.MessageID != "" {
		ev.Str("message_id", e.MessageID)
	}
	if e.FileName != "" {
		ev.Str("file_name", e.FileName)
	}
	if e.Type != "" {
		ev.Str("type", e.Type)
	}
	if e.Users != nil {
		ev.Int("users", len(e.Users))
		return
	}
	ev.Int("data_len", len(e.Data))
}
