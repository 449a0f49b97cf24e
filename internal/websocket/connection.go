// Package websocket adapts gorilla/websocket connections to the
// messaging core: a single-writer connection wrapper plus the HTTP
// upgrade handler that runs the connect handshake and read loop.
package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection wraps one websocket with a buffered write channel drained
// by a single goroutine; gorilla connections permit only one concurrent
// writer. It implements interfaces.Sender.
type Connection struct {
	socketID string
	conn     *websocket.Conn
	writeCh  chan []byte

	writeTimeout time.Duration
	pingInterval time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

func NewConnection(conn *websocket.Conn, bufferSize int, writeTimeout, pingInterval time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		socketID:     uuid.NewString(),
		conn:         conn,
		writeCh:      make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *Connection) SocketID() string {
	return c.socketID
}

// WriteJSON queues a message for the writer goroutine. A full buffer
// means the client cannot keep up; the message is dropped and the
// connection closed rather than blocking the broadcast path.
func (c *Connection) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		log.Printf("write buffer full, closing slow connection: socket=%s", c.socketID)
		_ = c.Close()
		return ErrWriteBufferFull
	}
}

func (c *Connection) writeLoop() {
	defer close(c.done)
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.writeCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("websocket write failed: socket=%s err=%v", c.socketID, err)
				c.cancel()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			// Flush pending messages before closing the socket.
			for {
				select {
				case data := <-c.writeCh:
					_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
					_ = c.conn.WriteMessage(websocket.TextMessage, data)
				default:
					_ = c.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					_ = c.conn.Close()
					return
				}
			}
		}
	}
}

// Close shuts down the writer and the underlying socket. Safe to call
// multiple times and from any goroutine.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
	})
	return nil
}

// Done is closed once the writer goroutine has exited.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}
