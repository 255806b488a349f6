package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var ErrClosed = errors.New("connection closed")

// Conn wraps a WebSocket connection so that session replies, pushes and
// keepalive pings can be written from different goroutines.
type Conn struct {
	ID string
	ws *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ID: uuid.New().String(), ws: ws}
}

func (c *Conn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

func (c *Conn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// CloseWith sends a close frame with the given code and reason, then closes
// the connection.
func (c *Conn) CloseWith(code int, reason string) error {
	c.mu.Lock()
	if !c.closed {
		c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	}
	c.mu.Unlock()
	return c.Close()
}

// Close closes the underlying connection. It is safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.ws.Close()
}
