package transport

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"go-chat-sync/internal/auth"
)

const (
	writeWait      = 10 * time.Second // Time allowed to write a frame to the server.
	pongWait       = 60 * time.Second // Time allowed between frames or pings from the server.
	maxMessageSize = 64 * 1024        // History echoes are larger than single chat lines.
)

// Conn is one open socket. ReadMessage is called from a single goroutine and
// WriteMessage from another; Close may be called concurrently with both.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens a connection on behalf of an identity. Dial must return when
// ctx is canceled.
type Dialer interface {
	Dial(ctx context.Context, ident auth.Identity) (Conn, error)
}

// WSDialer dials the relay websocket endpoint, passing the token as the
// ?token= query parameter the auth middleware accepts.
type WSDialer struct {
	URL    string
	Dialer *websocket.Dialer
}

func NewWSDialer(rawURL string) *WSDialer {
	return &WSDialer{URL: rawURL, Dialer: websocket.DefaultDialer}
}

func (d *WSDialer) Dial(ctx context.Context, ident auth.Identity) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("transport: parse url: %w", err)
	}
	if ident.Token != "" {
		q := u.Query()
		q.Set("token", ident.Token)
		u.RawQuery = q.Encode()
	}

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	c, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("transport: dial %s: %w (status %d)", d.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("transport: dial %s: %w", d.URL, err)
	}
	return newWSConn(c), nil
}

type wsConn struct {
	c *websocket.Conn
}

func newWSConn(c *websocket.Conn) *wsConn {
	c.SetReadLimit(maxMessageSize)
	c.SetReadDeadline(time.Now().Add(pongWait))
	// The relay pings every ~54s; answering also extends our read deadline.
	c.SetPingHandler(func(appData string) error {
		c.SetReadDeadline(time.Now().Add(pongWait))
		err := c.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	return &wsConn{c: c}
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	_, b, err := w.c.ReadMessage()
	if err != nil {
		return nil, err
	}
	w.c.SetReadDeadline(time.Now().Add(pongWait))
	return b, nil
}

func (w *wsConn) WriteMessage(data []byte) error {
	w.c.SetWriteDeadline(time.Now().Add(writeWait))
	return w.c.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Close() error {
	_ = w.c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return w.c.Close()
}
