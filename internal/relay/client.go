package relay

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"go-chat-sync/internal/event"
	"go-chat-sync/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 256
)

// Client is one websocket connection of an authenticated user.
type Client struct {
	ID     string
	UserID int64
	Name   string

	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func NewClient(hub *Hub, conn *websocket.Conn, userID int64, username string) *Client {
	return &Client{
		ID:     uuid.NewString(),
		UserID: userID,
		Name:   username,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
	}
}

// ReadPump decodes envelopes from the socket and hands them to the hub, in
// order, until the connection fails. created_by is always the socket's user.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.Info("websocket closed", zap.String("client", c.ID), zap.Error(err))
			}
			return
		}
		for _, part := range event.SplitFrame(frame) {
			env, err := event.Decode(part)
			if err != nil {
				logger.Log.Warn("discarding malformed frame", zap.String("client", c.ID), zap.Error(err))
				continue
			}
			env.CreatedBy = c.UserID
			c.hub.Handle(ctx, c, env)
		}
	}
}

// WritePump writes queued frames, coalescing whatever is already buffered
// into one newline-separated websocket message, and pings the peer.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(frame)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
