// Package ws is the realtime gateway: it upgrades HTTP requests to WebSocket
// sessions, registers them with the connection registry, decodes inbound
// frames, and routes them to registry operations. Each session runs one read
// goroutine; outbound pushes go through the per-connection write mutex.
package ws

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/autocareers/messaging/internal/protocol"
	"github.com/autocareers/messaging/internal/registry"
)

// Config holds tunable parameters for the gateway.
type Config struct {
	WriteTimeout      time.Duration // timeout for a single outbound frame
	HeartbeatInterval time.Duration // how often to ping sessions
	HeartbeatTimeout  time.Duration // grace after ping before eviction
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:      10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
	}
}

// Gateway accepts live sessions and bridges them to the registry.
type Gateway struct {
	config   Config
	registry *registry.Registry

	mu    sync.Mutex
	conns map[*Connection]struct{}
	done  chan struct{}
}

// NewGateway creates a Gateway bound to the given registry and starts the
// heartbeat monitor.
func NewGateway(config Config, reg *registry.Registry) *Gateway {
	g := &Gateway{
		config:   config,
		registry: reg,
		conns:    make(map[*Connection]struct{}),
		done:     make(chan struct{}),
	}
	startHeartbeat(g)
	return g
}

// HandleSession upgrades the request to a WebSocket session for the user in
// the {userID} URL parameter and registers it. The caller-supplied identity
// is trusted; authentication happens upstream of this subsystem.
func (g *Gateway) HandleSession(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.Atoi(chi.URLParam(r, "userID"))
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed for user %d: %v", userID, err)
		return
	}

	c := newConnection(userID, conn, g.config.WriteTimeout)

	g.mu.Lock()
	g.conns[c] = struct{}{}
	g.mu.Unlock()

	g.registry.Register(userID, c)
	log.Printf("ws: session opened user=%d", userID)

	go g.readLoop(c)
}

// readLoop reads frames for one session until the connection dies, then
// releases every registry reference the session held. Cleanup runs exactly
// once and always from here, whether the close was client-initiated, a
// transport error, or a heartbeat eviction.
func (g *Gateway) readLoop(c *Connection) {
	defer func() {
		g.mu.Lock()
		delete(g.conns, c)
		g.mu.Unlock()

		g.registry.Unregister(c.UserID, c)
		_ = c.Close()
		log.Printf("ws: session closed user=%d", c.UserID)
	}()

	rd := &wsutil.Reader{
		Source:    c.conn,
		State:     ws.StateServerSide,
		CheckUTF8: true,
	}

	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			// Transport error or eviction — end the session.
			return
		}

		// Any frame proves the connection is alive, pongs included.
		c.Touch()

		if hdr.OpCode.IsControl() {
			payload, err := io.ReadAll(rd)
			if err != nil {
				return
			}
			switch hdr.OpCode {
			case ws.OpClose:
				return
			case ws.OpPing:
				if err := c.WritePong(payload); err != nil {
					return
				}
			}
			continue
		}

		data, err := io.ReadAll(rd)
		if err != nil {
			return
		}
		if len(data) == 0 {
			continue
		}
		g.handleFrame(c, data)
	}
}

// handleFrame decodes one inbound frame and routes it. Malformed payloads
// produce a diagnostic frame on the same session and never a disconnect.
// Every successfully parsed frame, recognized or not, is acknowledged back
// with its own payload.
func (g *Gateway) handleFrame(c *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Printf("ws: parse error user=%d: %v", c.UserID, err)
		g.sendError(c, protocol.CodeInvalidJSON, fmt.Sprintf("invalid JSON: %s", data))
		return
	}

	switch m := msg.(type) {
	case protocol.TypingStatusMsg:
		if m.ConversationID != "" {
			g.registry.SetTyping(c.UserID, m.ConversationID, m.IsTyping)
		}
	case protocol.ActiveConversationMsg:
		g.registry.SetActiveConversation(c.UserID, m.ConversationID)
	default:
		log.Printf("ws: unhandled frame type=%q user=%d", msgType, c.UserID)
	}

	g.sendAck(c, data)
}

// sendAck echoes a received frame back to its sender.
func (g *Gateway) sendAck(c *Connection, received []byte) {
	payload, err := protocol.NewServerMessage(protocol.TypeAck, protocol.AckMsg{Received: received})
	if err != nil {
		log.Printf("ws: failed to build ack user=%d: %v", c.UserID, err)
		return
	}
	if err := c.WriteMessage(payload); err != nil {
		log.Printf("ws: failed to send ack user=%d: %v", c.UserID, err)
	}
}

// sendError sends a diagnostic frame. Failures are logged, never propagated:
// a diagnostic must not take the session down.
func (g *Gateway) sendError(c *Connection, code, message string) {
	payload, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Code:    code,
		Message: message,
	})
	if err != nil {
		log.Printf("ws: failed to build error frame user=%d: %v", c.UserID, err)
		return
	}
	if err := c.WriteMessage(payload); err != nil {
		log.Printf("ws: failed to send error frame user=%d: %v", c.UserID, err)
	}
}

// connections returns a snapshot of all open connections.
func (g *Gateway) connections() []*Connection {
	g.mu.Lock()
	out := make([]*Connection, 0, len(g.conns))
	for c := range g.conns {
		out = append(out, c)
	}
	g.mu.Unlock()
	return out
}

// SessionCount returns the number of open gateway connections.
func (g *Gateway) SessionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// Shutdown stops the heartbeat and closes every open session. Each session's
// read loop performs its own registry cleanup as the close propagates.
func (g *Gateway) Shutdown() {
	close(g.done)
	for _, c := range g.connections() {
		_ = c.Close()
	}
	log.Printf("ws: gateway stopped, all sessions closed")
}
