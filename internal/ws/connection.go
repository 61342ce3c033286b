package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection represents a single live WebSocket session for one user, with a
// write mutex serializing outbound frames. It implements registry.Conn.
type Connection struct {
	UserID    int
	CreatedAt time.Time

	conn       net.Conn
	writeMu    sync.Mutex
	lastActive atomic.Int64 // unix nanos of the last inbound frame
	closed     atomic.Bool

	writeTimeout time.Duration
}

func newConnection(userID int, conn net.Conn, writeTimeout time.Duration) *Connection {
	c := &Connection{
		UserID:       userID,
		CreatedAt:    time.Now(),
		conn:         conn,
		writeTimeout: writeTimeout,
	}
	c.Touch()
	return c
}

// WriteMessage sends a WebSocket text frame on this connection. The write
// mutex ensures concurrent goroutines do not interleave frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	err := wsutil.WriteServerMessage(c.conn, ws.OpText, data)
	// Clear the deadline so it does not affect later writes.
	_ = c.conn.SetWriteDeadline(time.Time{})
	return err
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9). The
// client's transport answers with a pong automatically.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.conn, ws.NewPingFrame(nil))
}

// WritePong answers a client ping, echoing its payload per RFC 6455.
func (c *Connection) WritePong(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.conn, ws.NewPongFrame(payload))
}

// Touch records inbound activity for the heartbeat monitor.
func (c *Connection) Touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// LastActive returns the time of the last inbound frame.
func (c *Connection) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// Close closes the underlying network connection once. Closing unblocks the
// session's read loop, which performs the registry cleanup.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}
