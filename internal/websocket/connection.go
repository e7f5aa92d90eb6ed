package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"directchat/pkg/interfaces"
)

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// Interface boundary maintained - no business logic in connection wrapper
type Connection struct {
	conn         *websocket.Conn
	writeCh      chan []byte // FUNCTIONAL DISCOVERY: buffer absorbs history bursts without blocking the dispatcher
	writeTimeout time.Duration
	remoteAddr   string
	ctx          context.Context    // For cancellation
	cancel       context.CancelFunc // For cleanup
	closeOnce    sync.Once          // Ensure single close
}

var _ interfaces.Connection = (*Connection)(nil)

// NewConnection wraps conn and starts its single writer goroutine
func NewConnection(conn *websocket.Conn, sendBuffer int, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		writeCh:      make(chan []byte, sendBuffer),
		writeTimeout: writeTimeout,
		remoteAddr:   conn.RemoteAddr().String(),
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				// A peer that cannot take writes is gone; the read loop notices the close
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues v for the writer goroutine without waiting
// FUNCTIONAL DISCOVERY: A peer whose buffer is full is too slow to keep up;
// it is disconnected so channel members never wait on it
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		_ = c.Close()
		return ErrSendBufferFull
	}
}

// ARCHITECTURAL DISCOVERY: Clean shutdown requires careful goroutine coordination
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// RemoteAddr identifies the peer for logging
func (c *Connection) RemoteAddr() string {
	return c.remoteAddr
}

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}
