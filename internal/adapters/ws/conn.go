// Package ws is the WebSocket signaling endpoint: one goroutine pair per
// connection, typed dispatch of inbound frames, and teardown that mirrors an
// explicit leave.
package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/echoroom/server/internal/app"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
)

// Conn is an indirection over *websocket.Conn to ease testing.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	Close() error
}

var errConnClosed = errors.New("connection closed")

// wsConn owns the transport endpoint. TrySend never blocks; a full buffer
// means the frame is dropped and the caller decides what to do about it.
// The mutex orders TrySend against Close: a broadcast that races a
// disconnect gets errConnClosed, never a send on the closed channel.
type wsConn struct {
	conn Conn

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func newWSConn(conn Conn) *wsConn {
	return &wsConn{
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
}

func (c *wsConn) TrySend(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return app.ErrBackpressure
	}
}

func (c *wsConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

func (c *wsConn) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				log.Debug().Err(err).Str("module", "ws").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("module", "ws").Msg("writePump write")
				return
			}
		}
	}
}
