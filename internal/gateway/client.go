package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"coinfeed/internal/stream"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 256
)

var errClientClosed = errors.New("client connection closed")

// Client is one WebSocket peer bound to a streaming session. It implements
// stream.Pusher; only writePump touches the connection for writing.
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	hub     *Hub
	session *stream.Session
	log     *slog.Logger
}

func newClient(conn *websocket.Conn, hub *Hub, log *slog.Logger) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
		hub:  hub,
		log:  log,
	}
}

// Push queues frame for delivery. It blocks while the send buffer is full and
// gives up once ctx is done or the connection has closed.
func (c *Client) Push(ctx context.Context, frame any) error {
	msg, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return errClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug("ws write failed", "err", err)
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump turns client messages into reconfigure calls until the connection
// ends, then stops the session. It runs on the handler goroutine.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.session.Disconnect()
		c.hub.RemoveClient(c)
		c.close()
		c.log.Info("ws client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("ws read failed", "err", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg ReconfigureMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.Push(ctx, stream.ErrorFrame{Type: "error", Error: "invalid message: " + err.Error()})
			continue
		}
		interval, kind := c.session.Config()
		if msg.Interval == "" {
			msg.Interval = string(interval)
		}
		if msg.Kind == "" {
			msg.Kind = string(kind)
		}
		// failures are already reported to the client as error frames
		c.session.Reconfigure(ctx, msg.Interval, msg.Kind)
	}
}
