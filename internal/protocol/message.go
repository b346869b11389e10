package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrPayloadTooLarge is returned when a payload exceeds MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("message payload exceeds maximum size")

	// ErrInvalidMessage is returned when a message is malformed.
	ErrInvalidMessage = errors.New("invalid message")
)

// Message represents a wire protocol message.
// Header format (5 bytes):
//
//	Length [4 bytes] - Total message size including the header (big-endian)
//	Type   [1 byte]  - Message type
type Message struct {
	Type    uint8
	Payload []byte
}

// Encode serializes the message to bytes.
func (m *Message) Encode() ([]byte, error) {
	if len(m.Payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	buf := make([]byte, HeaderSize+len(m.Payload))

	// Header
	binary.BigEndian.PutUint32(buf[0:4], uint32(HeaderSize+len(m.Payload)))
	buf[4] = m.Type

	// Payload
	copy(buf[HeaderSize:], m.Payload)

	return buf, nil
}

// DecodeHeader decodes a message header from bytes. The returned length is
// the declared total message size including the header itself.
func DecodeHeader(buf []byte) (length uint32, msgType uint8, err error) {
	if len(buf) < HeaderSize {
		return 0, 0, fmt.Errorf("%w: header too short", ErrInvalidMessage)
	}

	length = binary.BigEndian.Uint32(buf[0:4])
	msgType = buf[4]

	if length < HeaderSize {
		return 0, 0, fmt.Errorf("%w: declared length %d below header size", ErrInvalidMessage, length)
	}
	if length > MaxMessageSize {
		return 0, 0, ErrPayloadTooLarge
	}

	return length, msgType, nil
}

// Decode deserializes a message from bytes.
func Decode(buf []byte) (*Message, error) {
	length, msgType, err := DecodeHeader(buf)
	if err != nil {
		return nil, err
	}

	if len(buf) < int(length) {
		return nil, fmt.Errorf("%w: buffer too short for payload", ErrInvalidMessage)
	}

	payload := make([]byte, length-HeaderSize)
	copy(payload, buf[HeaderSize:length])

	return &Message{
		Type:    msgType,
		Payload: payload,
	}, nil
}

// String returns a debug representation of the message.
func (m *Message) String() string {
	return fmt.Sprintf("Message{Type=%s, PayloadLen=%d}", MessageTypeName(m.Type), len(m.Payload))
}

// ============================================================================
// Message Reader/Writer
// ============================================================================

// MessageReader reads framed messages from an io.Reader.
//
// Decoding is two-phase: the fixed-size header is read in full to learn the
// declared length, then exactly the remaining bytes are read. There is no
// resynchronization after a bad header; the stream must be abandoned.
type MessageReader struct {
	r      io.Reader
	header [HeaderSize]byte
}

// NewMessageReader creates a new MessageReader.
func NewMessageReader(r io.Reader) *MessageReader {
	return &MessageReader{r: r}
}

// Read reads the next message.
func (mr *MessageReader) Read() (*Message, error) {
	// Read header
	if _, err := io.ReadFull(mr.r, mr.header[:]); err != nil {
		return nil, err
	}

	length, msgType, err := DecodeHeader(mr.header[:])
	if err != nil {
		return nil, err
	}

	// Read payload
	payload := make([]byte, length-HeaderSize)
	if len(payload) > 0 {
		if _, err := io.ReadFull(mr.r, payload); err != nil {
			return nil, err
		}
	}

	return &Message{
		Type:    msgType,
		Payload: payload,
	}, nil
}

// MessageWriter writes framed messages to an io.Writer.
type MessageWriter struct {
	w io.Writer
}

// NewMessageWriter creates a new MessageWriter.
func NewMessageWriter(w io.Writer) *MessageWriter {
	return &MessageWriter{w: w}
}

// Write writes a message.
func (mw *MessageWriter) Write(m *Message) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	_, err = mw.w.Write(data)
	return err
}

// WriteMessage is a convenience method to write a message with the given parameters.
func (mw *MessageWriter) WriteMessage(msgType uint8, payload []byte) error {
	return mw.Write(&Message{
		Type:    msgType,
		Payload: payload,
	})
}
