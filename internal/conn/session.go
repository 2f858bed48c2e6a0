// Package conn owns the single websocket session to the chat server:
// dialing, the open/close lifecycle, the fixed-delay reconnect and joining
// the room once a display name is known.
package conn

import (
	"fmt"
	"net/url"
	"strings"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is a point-in-time copy of the connection state.
type Session struct {
	DisplayName      string
	State            State
	ReconnectAttempt int
}

// EndpointURL derives the websocket endpoint from the server origin:
// https maps to wss, http to ws, and the path is always /ws.
func EndpointURL(origin string) (string, error) {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return "", fmt.Errorf("server url is required")
	}
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server url has no host")
	}
	u.Path = "/ws"
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u.String(), nil
}
