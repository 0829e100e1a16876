package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	callPath     = "/api/ws/call/"
	closeMessage = "Client disconnected"
	writeWait    = 5 * time.Second
)

// WebSocketDialer opens call channels at {BaseURL}/api/ws/call/{sessionID}
type WebSocketDialer struct {
	BaseURL string // ws:// or wss:// origin
	Dialer  *websocket.Dialer
	Header  http.Header
}

// NewWebSocketDialer creates a dialer for the given ws(s) base URL
func NewWebSocketDialer(baseURL string) *WebSocketDialer {
	return &WebSocketDialer{
		BaseURL: baseURL,
		Dialer:  websocket.DefaultDialer,
	}
}

// CallURL returns the channel address for a session
func (d *WebSocketDialer) CallURL(sessionID string) string {
	return strings.TrimRight(d.BaseURL, "/") + callPath + url.PathEscape(sessionID)
}

// Dial connects the websocket
func (d *WebSocketDialer) Dial(ctx context.Context, sessionID string) (Channel, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, _, err := dialer.DialContext(ctx, d.CallURL(sessionID), d.Header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect WebSocket: %w", err)
	}

	return &wsChannel{conn: conn}, nil
}

type wsChannel struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (c *wsChannel) WriteAudio(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return wsError(err)
	}
	return nil
}

func (c *wsChannel) ReadEvent() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, wsError(err)
		}

		// The call channel is text-only inbound
		if msgType == websocket.TextMessage {
			return data, nil
		}
	}
}

func (c *wsChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, closeMessage)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}

// wsError maps a closed connection to ErrClosed
func wsError(err error) error {
	var closeErr *websocket.CloseError
	switch {
	case errors.As(err, &closeErr):
		return fmt.Errorf("%w: %d %s", ErrClosed, closeErr.Code, closeErr.Text)
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF), errors.Is(err, websocket.ErrCloseSent):
		return fmt.Errorf("%w: %v", ErrClosed, err)
	default:
		return err
	}
}
