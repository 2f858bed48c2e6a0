package conn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"nhooyr.io/websocket"
)

// MaxFrameSize bounds a single inbound frame. Image messages are base64
// encoded so they are larger than the 2 MiB upload limit.
const MaxFrameSize = 8 << 20

var errTransportClosed = errors.New("connection closed")

// Transport is one established connection. Read returns io.EOF when the
// peer closed normally.
type Transport interface {
	Write(ctx context.Context, data []byte) error
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// WSDialer dials text-frame websocket transports.
type WSDialer struct {
	HTTPClient *http.Client
	Header     http.Header
}

func (d WSDialer) Dial(ctx context.Context, url string) (Transport, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: d.Header,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(MaxFrameSize)
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errTransportClosed
	}
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := t.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil, io.EOF
			}
			return nil, err
		}
		if typ != websocket.MessageText {
			continue
		}
		return data, nil
	}
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close(websocket.StatusNormalClosure, "bye")
}
