// Package client ties the tunnel components into the surface the host
// application drives: open, negotiate, run the pump, tick, terminate.
package client

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/lyricz/a4over6/internal/conn"
	"github.com/lyricz/a4over6/internal/heartbeat"
	"github.com/lyricz/a4over6/internal/logging"
	"github.com/lyricz/a4over6/internal/metrics"
	"github.com/lyricz/a4over6/internal/tunnel"
)

// Client manages at most one connection epoch at a time. All failures are
// local to the epoch; the host starts a fresh one by calling Open again.
type Client struct {
	logger *slog.Logger
	m      *metrics.Metrics
	mtu    int

	mu   sync.Mutex
	conn *conn.Conn
	hb   *heartbeat.Monitor
}

// New creates a client. mtu bounds the packet unit read from the device.
func New(logger *slog.Logger, m *metrics.Metrics, mtu int) *Client {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if m == nil {
		m = metrics.Default()
	}
	return &Client{
		logger: logger.With(logging.KeyComponent, "client"),
		m:      m,
		mtu:    mtu,
	}
}

// Open establishes the transport to host:port and prepares a fresh epoch.
// It fails if an epoch is still active.
func (c *Client) Open(host string, port int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.conn.Active() {
		return fmt.Errorf("connection already open to %s", c.conn.RemoteAddr())
	}

	cn, err := conn.Dial(c.logger, c.m, host, port)
	if err != nil {
		return err
	}

	c.conn = cn
	c.hb = heartbeat.NewMonitor(c.logger, c.m, cn)
	return nil
}

// RunPump starts both forwarders over the given device endpoint and blocks
// until both have exited and the socket is torn down.
func (c *Client) RunPump(device tunnel.Device) {
	c.mu.Lock()
	cn := c.conn
	hb := c.hb
	c.mu.Unlock()

	if cn == nil {
		return
	}

	pump := tunnel.NewPump(c.logger, cn, hb, c.mtu)
	pump.Run(device)
}

// Tick advances the heartbeat state machine by one unit and returns a status
// snapshot, or "" when no connection is active or liveness just expired.
func (c *Client) Tick() string {
	c.mu.Lock()
	hb := c.hb
	c.mu.Unlock()

	if hb == nil {
		return ""
	}
	return hb.Tick()
}

// Terminate requests cooperative shutdown by clearing the run flag. It does
// not block waiting for the pump to exit.
func (c *Client) Terminate() {
	c.mu.Lock()
	cn := c.conn
	c.mu.Unlock()

	if cn != nil {
		c.logger.Info("terminate requested")
		cn.SetRunning(false)
	}
}

// Conn exposes the current epoch. It returns nil before the first Open.
func (c *Client) Conn() *conn.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// IsRunning reports whether an epoch is active.
func (c *Client) IsRunning() bool {
	c.mu.Lock()
	cn := c.conn
	c.mu.Unlock()
	return cn != nil && cn.Active()
}

// Stats is a point-in-time snapshot for the health endpoint.
type Stats struct {
	Connected     bool   `json:"connected"`
	RemoteAddr    string `json:"remote_addr"`
	BytesSent     uint64 `json:"bytes_sent"`
	BytesReceived uint64 `json:"bytes_received"`
	TimeConnected uint32 `json:"time_connected"`
}

// Stats returns the current epoch's counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	cn := c.conn
	hb := c.hb
	c.mu.Unlock()

	if cn == nil {
		return Stats{}
	}
	s := Stats{
		Connected:     cn.Active(),
		RemoteAddr:    cn.RemoteAddr(),
		BytesSent:     cn.BytesSent(),
		BytesReceived: cn.BytesReceived(),
	}
	if hb != nil {
		s.TimeConnected = hb.TimeConnected()
	}
	return s
}
