// Package conn owns the live tunnel socket for one connection epoch.
//
// A Conn is created by Dial and never reused: every connect cycle produces a
// fresh epoch carrying its own socket handle, run/negotiate flags and byte
// counters, so a stale flag or counter can never leak into a later attempt.
package conn

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lyricz/a4over6/internal/logging"
	"github.com/lyricz/a4over6/internal/metrics"
	"github.com/lyricz/a4over6/internal/protocol"
)

const (
	// SocketTimeout bounds every raw send and receive on the socket.
	SocketTimeout = 2000 * time.Millisecond

	// ReconnectLimit is the number of consecutive receive timeouts tolerated
	// before a read gives up with whatever it has accumulated.
	ReconnectLimit = 3

	// recvPause is the pause between empty reads and before a reconnect.
	recvPause = 100 * time.Microsecond
)

var (
	// ErrClosed is returned when the epoch has been shut down or never opened.
	ErrClosed = errors.New("connection closed")

	// ErrShortRead is returned when a receive gives up before filling the buffer.
	ErrShortRead = errors.New("short read")

	// ErrShortWrite is returned when a send wrote fewer bytes than requested.
	ErrShortWrite = errors.New("short write")
)

// Conn is a single connection epoch: the live socket, the resolved peer
// address used for in-epoch reconnects, and the epoch's flags and counters.
//
// The running and negotiating flags gate all raw I/O. Reconnection decisions
// are made only inside RecvRaw, behind the socket mutex, so two goroutines can
// never race a redial against a close.
type Conn struct {
	logger *slog.Logger
	m      *metrics.Metrics

	mu       sync.Mutex // guards sock, peerAddr and reconnection decisions
	sock     *net.TCPConn
	peerAddr string // last known-good peer address

	writeMu sync.Mutex // serializes outbound messages (one writer per direction)
	reader  *protocol.MessageReader

	running     atomic.Bool
	negotiating atomic.Bool

	// recvBudget, when non-zero, is an absolute unix-nano deadline that caps
	// all receive deadlines. A timeout past the budget is final and is not
	// answered with a reconnect. Used by address negotiation.
	recvBudget atomic.Int64

	bytesSent atomic.Uint64
	bytesRecv atomic.Uint64

	closeOnce sync.Once
}

// Dial resolves host:port to an ordered candidate list and connects to the
// first candidate that accepts a TCP connection. Nagle's algorithm is disabled
// and all subsequent I/O is bounded by SocketTimeout. The returned Conn is a
// fresh epoch with zeroed counters.
func Dial(logger *slog.Logger, m *metrics.Metrics, host string, port int) (*Conn, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if m == nil {
		m = metrics.Default()
	}
	logger = logger.With(logging.KeyComponent, "conn")

	portStr := strconv.Itoa(port)
	addrs, err := net.LookupHost(host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}

	var sock *net.TCPConn
	var lastErr error
	for _, addr := range addrs {
		target := net.JoinHostPort(addr, portStr)
		d := net.Dialer{Timeout: SocketTimeout}
		nc, err := d.Dial("tcp", target)
		if err != nil {
			logger.Debug("candidate failed", logging.KeyAddress, target, logging.KeyError, err)
			lastErr = err
			continue
		}
		sock = nc.(*net.TCPConn)
		break
	}
	if sock == nil {
		if lastErr == nil {
			lastErr = errors.New("no candidate addresses")
		}
		return nil, fmt.Errorf("connect %s: %w", net.JoinHostPort(host, portStr), lastErr)
	}

	sock.SetNoDelay(true)

	c := &Conn{
		logger:   logger,
		m:        m,
		sock:     sock,
		peerAddr: sock.RemoteAddr().String(),
	}
	c.reader = protocol.NewMessageReader(epochReader{c})

	m.ConnectsTotal.Inc()
	m.ConnectionUp.Set(1)
	logger.Info("connected",
		logging.KeyRemoteAddr, c.peerAddr,
		logging.KeyLocalAddr, sock.LocalAddr().String())

	return c, nil
}

// Running reports the epoch's run flag.
func (c *Conn) Running() bool {
	return c.running.Load()
}

// SetRunning sets the epoch's run flag. The true to false transition is the
// single cooperative cancellation signal for both pump directions.
func (c *Conn) SetRunning(v bool) {
	c.running.Store(v)
}

// Negotiating reports whether an address negotiation is in flight.
func (c *Conn) Negotiating() bool {
	return c.negotiating.Load()
}

// SetNegotiating marks an address negotiation in flight. The flag keeps raw
// I/O usable before the pump starts.
func (c *Conn) SetNegotiating(v bool) {
	c.negotiating.Store(v)
}

// IsOpen reports whether the epoch still holds a live socket handle.
func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sock != nil
}

// Active reports whether the epoch holds a live handle and the run flag is set.
func (c *Conn) Active() bool {
	c.mu.Lock()
	alive := c.sock != nil
	c.mu.Unlock()
	return alive && c.running.Load()
}

// BytesSent returns the epoch's monotonically non-decreasing sent counter.
func (c *Conn) BytesSent() uint64 {
	return c.bytesSent.Load()
}

// BytesReceived returns the epoch's monotonically non-decreasing received counter.
func (c *Conn) BytesReceived() uint64 {
	return c.bytesRecv.Load()
}

// AddBytesSent accumulates the sent counter. Written only by the uplink.
func (c *Conn) AddBytesSent(n uint64) {
	c.bytesSent.Add(n)
	c.m.BytesSent.Add(float64(n))
}

// AddBytesReceived accumulates the received counter. Written only by the downlink.
func (c *Conn) AddBytesReceived(n uint64) {
	c.bytesRecv.Add(n)
	c.m.BytesReceived.Add(float64(n))
}

// RemoteAddr returns the active peer address.
func (c *Conn) RemoteAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerAddr
}

// SetRecvBudget caps all receive deadlines at the given absolute time.
// A zero time clears the budget.
func (c *Conn) SetRecvBudget(t time.Time) {
	if t.IsZero() {
		c.recvBudget.Store(0)
		return
	}
	c.recvBudget.Store(t.UnixNano())
}

// currentSock returns the live socket, or nil after close.
func (c *Conn) currentSock() *net.TCPConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sock
}

// SendRaw performs one deadline-bounded blocking send. It fails immediately
// with ErrClosed once neither the run flag nor the negotiating flag is set, so
// nothing can write to a socket mid-teardown. A partial write is fatal for
// the attempt.
func (c *Conn) SendRaw(b []byte) (int, error) {
	if !c.running.Load() && !c.negotiating.Load() {
		return 0, ErrClosed
	}

	sock := c.currentSock()
	if sock == nil {
		return 0, ErrClosed
	}

	sock.SetWriteDeadline(time.Now().Add(SocketTimeout))
	n, err := sock.Write(b)
	if err != nil {
		return n, fmt.Errorf("send: %w", err)
	}
	if n < len(b) {
		c.logger.Error("partial send", logging.KeyBytes, n, "want", len(b))
		return n, fmt.Errorf("send %d/%d bytes: %w", n, len(b), ErrShortWrite)
	}
	return n, nil
}

// RecvRaw accumulates bytes into b until it is full or the epoch's flag pair
// goes false. A transport timeout redials the last known-good peer address;
// after ReconnectLimit consecutive timeouts with no progress it gives up and
// returns what was accumulated together with ErrShortRead. A zero-byte read
// means no data has arrived yet (the protocol has no end marker) and resets
// the retry counter.
func (c *Conn) RecvRaw(b []byte) (int, error) {
	received := 0
	timeouts := 0

	for (c.running.Load() || c.negotiating.Load()) && received < len(b) {
		sock := c.currentSock()
		if sock == nil {
			break
		}

		deadline := time.Now().Add(SocketTimeout)
		budget := c.recvBudget.Load()
		if budget != 0 {
			if t := time.Unix(0, budget); t.Before(deadline) {
				deadline = t
			}
		}

		sock.SetReadDeadline(deadline)
		n, err := sock.Read(b[received:])
		if n > 0 {
			timeouts = 0
			received += n
			continue
		}

		if err == nil {
			// Nothing arrived; not an error and not end-of-stream.
			timeouts = 0
			time.Sleep(recvPause)
			continue
		}

		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			if budget != 0 && !time.Now().Before(time.Unix(0, budget)) {
				// Receive budget exhausted, give up without reconnecting.
				break
			}
			timeouts++
			if timeouts == ReconnectLimit {
				break
			}
			time.Sleep(recvPause)
			c.logger.Debug("receive timeout, reconnecting", logging.KeyAttempt, timeouts)
			c.reconnect()
			continue
		}

		// EOF or hard transport error.
		c.logger.Debug("receive failed", logging.KeyError, err)
		break
	}

	if received < len(b) {
		return received, fmt.Errorf("received %d/%d bytes: %w", received, len(b), ErrShortRead)
	}
	return received, nil
}

// reconnect redials the remembered peer address and swaps the socket. It is
// the only reconnection path in the process and runs entirely under the
// socket mutex, so a concurrent Close cannot race it.
func (c *Conn) reconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sock == nil || c.peerAddr == "" {
		return
	}

	c.m.ReconnectAttempts.Inc()

	d := net.Dialer{Timeout: SocketTimeout}
	nc, err := d.Dial("tcp", c.peerAddr)
	if err != nil {
		c.logger.Debug("reconnect failed", logging.KeyRemoteAddr, c.peerAddr, logging.KeyError, err)
		return
	}

	old := c.sock
	c.sock = nc.(*net.TCPConn)
	c.sock.SetNoDelay(true)
	old.Close()
}

// SendMessage frames and sends one protocol message. Messages share a single
// outbound path, so heartbeats and data can interleave in time but never on
// the wire.
func (c *Conn) SendMessage(msgType uint8, payload []byte) (int, error) {
	msg := protocol.Message{Type: msgType, Payload: payload}
	data, err := msg.Encode()
	if err != nil {
		return 0, err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	n, err := c.SendRaw(data)
	if err != nil {
		return n, err
	}
	c.m.MessagesSent.WithLabelValues(protocol.MessageTypeName(msgType)).Inc()
	return n, nil
}

// ReadMessage reads one framed message through the epoch's receive path.
// There is exactly one consumer at a time: the negotiator before the pump
// starts, the downlink afterwards.
func (c *Conn) ReadMessage() (*protocol.Message, error) {
	msg, err := c.reader.Read()
	if err != nil {
		return nil, err
	}
	c.m.MessagesReceived.WithLabelValues(protocol.MessageTypeName(msg.Type)).Inc()
	return msg, nil
}

// Close shuts down both directions of the socket and invalidates the handle.
// It is idempotent.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		sock := c.sock
		c.sock = nil
		c.mu.Unlock()

		if sock != nil {
			sock.CloseRead()
			sock.CloseWrite()
			err = sock.Close()
		}
		c.m.ConnectionUp.Set(0)
		c.logger.Info("socket shutdown")
	})
	return err
}

// epochReader adapts the epoch receive path to io.Reader for the message
// framer. RecvRaw either fills the buffer or fails, which is exactly the
// read-budget contract framing needs.
type epochReader struct {
	c *Conn
}

func (r epochReader) Read(p []byte) (int, error) {
	return r.c.RecvRaw(p)
}
