package ws

import (
	"log"
	"time"

	"github.com/gobwas/ws"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // sweep period between ping rounds (default: 30s)
	Timeout  time.Duration // extra grace after a ping before a conn is dead (default: 10s)
}

// DefaultHeartbeatConfig returns sensible defaults for heartbeat monitoring.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// StartHeartbeat launches the background sweep that keeps connections honest:
// every Interval it pings all live connections and drops any that produced no
// successful read within Interval + Timeout. The goroutine stops when the
// server's done channel closes.
func StartHeartbeat(server *Server, config HeartbeatConfig) {
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-server.done:
				return
			case <-ticker.C:
				sweepConnections(server, config)
			}
		}
	}()
}

// sweepConnections runs one heartbeat round. Stale connections are removed;
// everything else gets a WebSocket ping frame (opcode 0x9), which compliant
// clients answer automatically with a pong, refreshing LastPing on read.
func sweepConnections(server *Server, config HeartbeatConfig) {
	deadline := config.Interval + config.Timeout
	now := time.Now()

	for _, c := range server.Connections().All() {
		idle := now.Sub(c.LastPing)
		if idle > deadline {
			log.Printf("ws: heartbeat timeout conn=%s user=%s last_activity=%s ago",
				c.ID, c.UserID(), idle.Round(time.Second))
			server.RemoveConnection(c)
			continue
		}

		if err := c.WritePing(); err != nil {
			log.Printf("ws: heartbeat ping failed conn=%s: %v", c.ID, err)
			server.RemoveConnection(c)
		}
	}
}

// WritePing sends a protocol-level ping frame. The write mutex keeps it from
// interleaving with application frames on the same connection.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}
