package network

import (
	"fmt"
	"sync"
	"time"

	"github.com/cbodonnell/rally/pkg/messages"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// Conn wraps a WebSocket connection bound to one (session, participant) pair.
// The gateway owns its lifecycle; sessions hold it only through the
// sessions.Conn interface.
type Conn struct {
	id string
	ws *websocket.Conn

	// gorilla/websocket supports one concurrent writer
	mu     sync.Mutex
	closed bool
}

func newConn(ws *websocket.Conn) *Conn {
	return &Conn{
		id: uuid.NewString(),
		ws: ws,
	}
}

// ID returns the connection's unique identifier.
func (c *Conn) ID() string {
	return c.id
}

// Send writes a message to the connection.
func (c *Conn) Send(msg *messages.Message) error {
	b, err := messages.SerializeMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %v", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connection is closed")
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("failed to set write deadline: %v", err)
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return fmt.Errorf("failed to write message: %v", err)
	}

	return nil
}

// RequestClose closes the connection with a normal closure code.
func (c *Conn) RequestClose(reason string) {
	c.closeWithCode(websocket.CloseNormalClosure, reason)
}

// closeWithCode sends a close frame with the given code and closes the socket.
// Safe to call more than once.
func (c *Conn) closeWithCode(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true

	deadline := time.Now().Add(writeWait)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = c.ws.Close()
}
