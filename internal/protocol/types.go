// Package protocol defines the wire protocol for the 4over6 tunnel.
package protocol

// Message type constants
const (
	MsgIPRequest  uint8 = 100 // Request a tunnel address
	MsgIPReply    uint8 = 101 // Tunnel address assignment
	MsgNetRequest uint8 = 102 // Encapsulated IP packet, client to server
	MsgNetReply   uint8 = 103 // Encapsulated IP packet, server to client
	MsgHeartbeat  uint8 = 104 // Liveness probe
)

// Wire layout constants
const (
	// HeaderSize is the fixed header size in bytes:
	// Length [4 bytes, big-endian, total message size including the header]
	// Type   [1 byte]
	HeaderSize = 5

	// MaxPayloadSize is the maximum payload size in bytes. NET_REQUEST and
	// NET_REPLY carry one whole IP packet, so this is also the tunnel MTU.
	MaxPayloadSize = 4096

	// MaxMessageSize is the largest valid declared message length.
	MaxMessageSize = HeaderSize + MaxPayloadSize
)

// MessageTypeName returns a human-readable name for a message type.
func MessageTypeName(t uint8) string {
	switch t {
	case MsgIPRequest:
		return "IP_REQUEST"
	case MsgIPReply:
		return "IP_REPLY"
	case MsgNetRequest:
		return "NET_REQUEST"
	case MsgNetReply:
		return "NET_REPLY"
	case MsgHeartbeat:
		return "HEARTBEAT"
	default:
		return "UNKNOWN"
	}
}

// IsDataMessage returns true for message types that carry an IP packet.
func IsDataMessage(t uint8) bool {
	return t == MsgNetRequest || t == MsgNetReply
}

// IsControlMessage returns true for address negotiation and liveness types.
func IsControlMessage(t uint8) bool {
	return t == MsgIPRequest || t == MsgIPReply || t == MsgHeartbeat
}
