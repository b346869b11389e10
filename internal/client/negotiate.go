package client

import (
	"time"

	"github.com/lyricz/a4over6/internal/logging"
	"github.com/lyricz/a4over6/internal/protocol"
)

// NegotiateTimeout is the wall-clock ceiling for the one-shot address handshake.
const NegotiateTimeout = 2000 * time.Millisecond

// NegotiateAddress performs the one-shot address handshake: it sends an
// IP_REQUEST and waits for an IP_REPLY, whose payload is the tunnel address.
// Messages of any other type are ignored. Reaching the ceiling without a
// reply, or any framing failure, closes the connection and returns "".
//
// The negotiating flag keeps the connection's receive path usable before the
// pump starts, and is cleared on every exit path. The wait is a blocking read
// with a deadline, not a poll; the timeout semantics are unchanged.
func (c *Client) NegotiateAddress() string {
	c.mu.Lock()
	cn := c.conn
	c.mu.Unlock()

	if cn == nil {
		return ""
	}

	start := time.Now()
	deadline := start.Add(NegotiateTimeout)

	cn.SetNegotiating(true)
	defer cn.SetNegotiating(false)

	cn.SetRecvBudget(deadline)
	defer cn.SetRecvBudget(time.Time{})

	c.logger.Debug("sending address request")
	if _, err := cn.SendMessage(protocol.MsgIPRequest, nil); err != nil {
		c.logger.Warn("address request failed", logging.KeyError, err)
		c.m.NegotiateErrors.Inc()
		cn.Close()
		return ""
	}

	for time.Now().Before(deadline) {
		msg, err := cn.ReadMessage()
		if err != nil {
			break
		}

		if msg.Type == protocol.MsgIPReply {
			addr := string(msg.Payload)
			c.m.NegotiateLatency.Observe(time.Since(start).Seconds())
			c.logger.Info("address assigned", logging.KeyAddress, addr)
			return addr
		}

		c.logger.Debug("ignoring message during negotiation",
			logging.KeyMsgType, protocol.MessageTypeName(msg.Type))
	}

	c.logger.Warn("address negotiation timed out")
	c.m.NegotiateErrors.Inc()
	cn.Close()
	return ""
}
