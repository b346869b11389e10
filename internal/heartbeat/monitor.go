// Package heartbeat implements the tick-driven liveness state machine for the tunnel.
package heartbeat

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lyricz/a4over6/internal/logging"
	"github.com/lyricz/a4over6/internal/metrics"
	"github.com/lyricz/a4over6/internal/protocol"
)

const (
	// LivenessLimit is the number of ticks without a received heartbeat after
	// which the link is declared dead.
	LivenessLimit = 60

	// SendInterval is the number of ticks between emitted heartbeats.
	SendInterval = 20
)

// Link is the connection surface the monitor drives: liveness checks, the
// cooperative stop signal, heartbeat emission and the status counters.
// *conn.Conn satisfies it.
type Link interface {
	Active() bool
	SetRunning(v bool)
	SendMessage(msgType uint8, payload []byte) (int, error)
	BytesSent() uint64
	BytesReceived() uint64
}

// Monitor tracks connected time, the last received heartbeat and the emission
// schedule for one connection epoch. It is driven by an external periodic
// tick, nominally once per second.
type Monitor struct {
	logger *slog.Logger
	m      *metrics.Metrics
	link   Link

	mu                sync.Mutex
	timeConnected     uint32 // ticks since establishment
	timeLastHeartbeat uint32 // tick value at last received heartbeat
	timeSendHeartbeat uint32 // ticks since last emitted heartbeat
}

// NewMonitor creates a monitor for one connection epoch.
func NewMonitor(logger *slog.Logger, m *metrics.Metrics, link Link) *Monitor {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if m == nil {
		m = metrics.Default()
	}
	return &Monitor{
		logger: logger.With(logging.KeyComponent, "heartbeat"),
		m:      m,
		link:   link,
	}
}

// Tick advances the state machine by one unit and returns a human-readable
// status snapshot. It returns "" when there is no active connection, or when
// this tick just declared the link dead.
func (mon *Monitor) Tick() string {
	if mon.link == nil || !mon.link.Active() {
		return ""
	}

	mon.mu.Lock()
	mon.timeConnected++

	if mon.timeConnected-mon.timeLastHeartbeat > LivenessLimit {
		ticks := mon.timeConnected
		mon.mu.Unlock()

		mon.logger.Warn("no heartbeat received, terminating", logging.KeyTicks, ticks)
		mon.m.LivenessExpiries.Inc()
		mon.m.DisconnectsTotal.WithLabelValues("liveness_expired").Inc()
		mon.link.SetRunning(false)
		return ""
	}

	mon.timeSendHeartbeat++
	emit := mon.timeSendHeartbeat == SendInterval
	if emit {
		mon.timeSendHeartbeat = 0
	}
	connected := mon.timeConnected
	mon.mu.Unlock()

	if emit {
		if _, err := mon.link.SendMessage(protocol.MsgHeartbeat, nil); err != nil {
			mon.logger.Debug("heartbeat send failed", logging.KeyError, err)
		} else {
			mon.m.HeartbeatsSent.Inc()
		}
	}

	return mon.status(connected)
}

// MarkReceived records a received heartbeat. Called by the downlink forwarder.
func (mon *Monitor) MarkReceived() {
	mon.mu.Lock()
	mon.timeLastHeartbeat = mon.timeConnected
	ticks := mon.timeLastHeartbeat
	mon.mu.Unlock()

	mon.m.HeartbeatsReceived.Inc()
	mon.logger.Debug("heartbeat received", logging.KeyTicks, ticks)
}

// TimeConnected returns the number of ticks since establishment.
func (mon *Monitor) TimeConnected() uint32 {
	mon.mu.Lock()
	defer mon.mu.Unlock()
	return mon.timeConnected
}

// status renders the counters the way the UI presents them.
func (mon *Monitor) status(connected uint32) string {
	return fmt.Sprintf("Sent: %s\nReceived: %s\nTime connected: %s",
		humanize.Bytes(mon.link.BytesSent()),
		humanize.Bytes(mon.link.BytesReceived()),
		(time.Duration(connected) * time.Second).String())
}
