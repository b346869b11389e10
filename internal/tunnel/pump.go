// Package tunnel implements the two directional forwarders that carry IP
// packets between the local device endpoint and the tunnel socket.
package tunnel

import (
	"io"
	"log/slog"
	"sync"

	"github.com/lyricz/a4over6/internal/conn"
	"github.com/lyricz/a4over6/internal/heartbeat"
	"github.com/lyricz/a4over6/internal/logging"
	"github.com/lyricz/a4over6/internal/protocol"
	"github.com/lyricz/a4over6/internal/recovery"
)

// Device is the local virtual network interface endpoint: a duplex byte
// stream delivering and accepting one whole IP packet per Read/Write.
type Device interface {
	io.Reader
	io.Writer
}

// Pump runs the uplink (device to socket) and downlink (socket to device)
// forwarders for the lifetime of one established connection.
type Pump struct {
	logger *slog.Logger
	conn   *conn.Conn
	hb     *heartbeat.Monitor
	mtu    int
}

// NewPump creates a pump over an established connection. mtu bounds the unit
// read from the device and must not exceed protocol.MaxPayloadSize.
func NewPump(logger *slog.Logger, c *conn.Conn, hb *heartbeat.Monitor, mtu int) *Pump {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if mtu <= 0 || mtu > protocol.MaxPayloadSize {
		mtu = protocol.MaxPayloadSize
	}
	return &Pump{
		logger: logger.With(logging.KeyComponent, "pump"),
		conn:   c,
		hb:     hb,
		mtu:    mtu,
	}
}

// Run sets the epoch's run flag, starts both forwarders and blocks until both
// have exited. It then shuts the socket down in both directions and
// invalidates the handle. No forwarder is left running when Run returns.
func (p *Pump) Run(device Device) {
	p.conn.SetRunning(true)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer recovery.RecoverWithLog(p.logger, "uplink")
		p.uplink(device)
	}()

	go func() {
		defer wg.Done()
		defer recovery.RecoverWithLog(p.logger, "downlink")
		p.downlink(device)
	}()

	wg.Wait()

	p.conn.Close()
	p.logger.Info("pump finished")
}

// uplink reads one packet at a time from the device, frames it as NET_REQUEST
// and sends it. It only observes the run flag; it never initiates shutdown.
func (p *Pump) uplink(device Device) {
	buf := make([]byte, p.mtu)

	for p.conn.Running() {
		n, err := device.Read(buf)
		if n > 0 {
			if _, err := p.conn.SendMessage(protocol.MsgNetRequest, buf[:n]); err != nil {
				p.logger.Debug("uplink send failed", logging.KeyError, err)
				continue
			}
			p.conn.AddBytesSent(uint64(protocol.HeaderSize + n))
			continue
		}
		if err != nil {
			// The device read unblocks with an error when the endpoint is
			// torn down; the run flag decides whether that ends the loop.
			p.logger.Debug("device read failed", logging.KeyError, err)
			continue
		}
		// Zero-length read: nothing to forward yet.
	}

	p.logger.Debug("uplink ends")
}

// downlink decodes framed messages from the socket. A decode failure clears
// the run flag, which is the cooperative shutdown signal for the uplink. A
// failed device write ends only this forwarder: the device being gone does
// not mean the socket is bad.
func (p *Pump) downlink(device Device) {
	for p.conn.Running() {
		msg, err := p.conn.ReadMessage()
		if err != nil {
			p.logger.Debug("downlink decode failed", logging.KeyError, err)
			p.conn.SetRunning(false)
			break
		}

		switch msg.Type {
		case protocol.MsgNetReply:
			n, err := device.Write(msg.Payload)
			if err != nil || n != len(msg.Payload) {
				p.logger.Warn("device write failed",
					logging.KeyBytes, n, logging.KeyError, err)
				p.logger.Debug("downlink ends, device down")
				return
			}
			p.conn.AddBytesReceived(uint64(protocol.HeaderSize + len(msg.Payload)))

		case protocol.MsgHeartbeat:
			if p.hb != nil {
				p.hb.MarkReceived()
			}

		default:
			// Unknown control types are ignored for forward compatibility.
			p.logger.Debug("ignoring message",
				logging.KeyMsgType, protocol.MessageTypeName(msg.Type))
		}
	}

	p.logger.Debug("downlink ends")
}
