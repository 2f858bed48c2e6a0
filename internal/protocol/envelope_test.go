package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDecodeChatText(t *testing.T) {
	raw := []byte(`{"event":"chat_text","data":{"name":"alice","data":"hello","messageId":"m1","type":"text"}}`)
	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Event != EventChatText || env.Name != "alice" || env.Data != "hello" || env.MessageID != "m1" {
		t.Fatalf("unexpected envelope: %#v", env)
	}
	if env.Users != nil {
		t.Fatalf("expected no users, got %v", env.Users)
	}
}

func TestDecodeOnlineUsers(t *testing.T) {
	raw := []byte(`{"event":"online_users","data":{"name":"","data":["alice","bob"]}}`)
	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(env.Users) != 2 || env.Users[0] != "alice" || env.Users[1] != "bob" {
		t.Fatalf("unexpected users: %v", env.Users)
	}
}

func TestDecodeScalarPayloadKeptVerbatim(t *testing.T) {
	env, err := Decode([]byte(`{"event":"online_count","data":{"name":"","data":3}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if env.Data != "3" {
		t.Fatalf("expected verbatim count, got %q", env.Data)
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: `hello`},
		{name: "missing event", raw: `{"data":{"name":"a","data":"b"}}`},
		{name: "blank event", raw: `{"event":"  ","data":{}}`},
		{name: "bad user list", raw: `{"event":"online_users","data":{"data":[1,2]}}`},
		{name: "roster as string", raw: `{"event":"online_users","data":{"data":"alice"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			if !errors.Is(err, ErrMalformedEnvelope) {
				t.Fatalf("expected ErrMalformedEnvelope, got %v", err)
			}
		})
	}
}

func TestEncodeWireShape(t *testing.T) {
	data, err := Encode(Envelope{Event: EventRecallMessage, Name: "alice", MessageID: "m1"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["event"] != EventRecallMessage {
		t.Fatalf("unexpected event: %v", got["event"])
	}
	inner, ok := got["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data object, got %T", got["data"])
	}
	if inner["name"] != "alice" || inner["messageId"] != "m1" || inner["data"] != "" {
		t.Fatalf("unexpected data: %v", inner)
	}
	if _, ok := inner["fileName"]; ok {
		t.Fatalf("expected fileName to be omitted")
	}
}

func TestEncodeRequiresEvent(t *testing.T) {
	if _, err := Encode(Envelope{Name: "alice"}); !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("expected ErrMalformedEnvelope, got %v", err)
	}
}

func TestEncodeOnlineUsersAsList(t *testing.T) {
	data, err := Encode(Envelope{Event: EventOnlineUsers, Users: []string{"a"}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	env, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(env.Users) != 1 || env.Users[0] != "a" {
		t.Fatalf("unexpected users: %v", env.Users)
	}
}

func TestLogSummaryOmitsPayload(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	secret := "data:image/png;base64,AAAAsecret"
	logger.Info().Object("envelope", Envelope{Event: EventChatImage, Name: "alice", Data: secret}).Msg("recv")

	out := buf.String()
	if strings.Contains(out, "secret") {
		t.Fatalf("payload leaked into log: %q", out)
	}
	if !strings.Contains(out, `"data_len":`) {
		t.Fatalf("expected data length in log: %q", out)
	}
}

func TestIsImage(t *testing.T) {
	if !(Envelope{Event: EventChatImage}).IsImage() {
		t.Fatalf("chat_image should be an image")
	}
	if !(Envelope{Event: EventChatPhoto}).IsImage() {
		t.Fatalf("chat_photo should be an image")
	}
	if (Envelope{Event: EventChatText}).IsImage() {
		t.Fatalf("chat_text should not be an image")
	}
}
