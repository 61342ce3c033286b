package ws

import (
	"log"
	"time"
)

// startHeartbeat begins a background goroutine that periodically pings all
// sessions and closes those with no inbound activity within
// interval+timeout. Closing the connection unblocks the session's read loop,
// which then performs the registry cleanup. The goroutine exits when the
// gateway's done channel is closed.
func startHeartbeat(g *Gateway) {
	go func() {
		ticker := time.NewTicker(g.config.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-g.done:
				return
			case <-ticker.C:
				checkConnections(g)
			}
		}
	}()
}

// checkConnections evicts dead sessions and pings the rest. The transport
// answers protocol-level pings automatically, so any live client produces
// inbound activity before the next sweep.
func checkConnections(g *Gateway) {
	deadline := g.config.HeartbeatInterval + g.config.HeartbeatTimeout
	now := time.Now()

	for _, c := range g.connections() {
		if now.Sub(c.LastActive()) > deadline {
			log.Printf("ws: heartbeat timeout user=%d last_activity=%s ago",
				c.UserID, now.Sub(c.LastActive()).Round(time.Second))
			_ = c.Close()
			continue
		}

		if err := c.WritePing(); err != nil {
			log.Printf("ws: heartbeat ping failed user=%d: %v", c.UserID, err)
			_ = c.Close()
		}
	}
}
