package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestMessageTypeName(t *testing.T) {
	tests := []struct {
		msgType uint8
		want    string
	}{
		{MsgIPRequest, "IP_REQUEST"},
		{MsgIPReply, "IP_REPLY"},
		{MsgNetRequest, "NET_REQUEST"},
		{MsgNetReply, "NET_REPLY"},
		{MsgHeartbeat, "HEARTBEAT"},
		{0xFF, "UNKNOWN"},
	}

	for _, tt := range tests {
		if got := MessageTypeName(tt.msgType); got != tt.want {
			t.Errorf("MessageTypeName(%d) = %s, want %s", tt.msgType, got, tt.want)
		}
	}
}

func TestMessage_EncodeDecode(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{
			name: "no payload",
			msg:  Message{Type: MsgHeartbeat},
		},
		{
			name: "empty payload",
			msg:  Message{Type: MsgIPRequest, Payload: []byte{}},
		},
		{
			name: "textual address",
			msg:  Message{Type: MsgIPReply, Payload: []byte("10.0.0.5")},
		},
		{
			name: "small packet",
			msg:  Message{Type: MsgNetRequest, Payload: []byte{0x45, 0x00, 0x00, 0x1c}},
		},
		{
			name: "max payload",
			msg:  Message{Type: MsgNetReply, Payload: bytes.Repeat([]byte{0xAB}, MaxPayloadSize)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.msg.Encode()
			if err != nil {
				t.Fatalf("Encode() error: %v", err)
			}

			if len(data) != HeaderSize+len(tt.msg.Payload) {
				t.Errorf("encoded length = %d, want %d", len(data), HeaderSize+len(tt.msg.Payload))
			}

			declared := binary.BigEndian.Uint32(data[0:4])
			if int(declared) != len(data) {
				t.Errorf("declared length = %d, want %d", declared, len(data))
			}

			decoded, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode() error: %v", err)
			}

			if decoded.Type != tt.msg.Type {
				t.Errorf("Type = %d, want %d", decoded.Type, tt.msg.Type)
			}
			if !bytes.Equal(decoded.Payload, tt.msg.Payload) {
				t.Errorf("Payload mismatch: got %d bytes, want %d bytes", len(decoded.Payload), len(tt.msg.Payload))
			}
		})
	}
}

func TestMessage_EncodeTooLarge(t *testing.T) {
	msg := Message{
		Type:    MsgNetRequest,
		Payload: make([]byte, MaxPayloadSize+1),
	}

	data, err := msg.Encode()
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("Encode() error = %v, want ErrPayloadTooLarge", err)
	}
	if data != nil {
		t.Errorf("Encode() produced partial output of %d bytes", len(data))
	}
}

func TestDecodeHeader_Errors(t *testing.T) {
	tests := []struct {
		name    string
		buf     []byte
		wantErr error
	}{
		{
			name:    "short header",
			buf:     []byte{0x00, 0x00, 0x00},
			wantErr: ErrInvalidMessage,
		},
		{
			name:    "declared length below header size",
			buf:     []byte{0x00, 0x00, 0x00, 0x02, MsgHeartbeat},
			wantErr: ErrInvalidMessage,
		},
		{
			name: "declared length above maximum",
			buf: func() []byte {
				b := make([]byte, HeaderSize)
				binary.BigEndian.PutUint32(b, MaxMessageSize+1)
				b[4] = MsgNetReply
				return b
			}(),
			wantErr: ErrPayloadTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeHeader(tt.buf)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("DecodeHeader() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecode_TruncatedPayload(t *testing.T) {
	msg := Message{Type: MsgNetReply, Payload: []byte("truncate me")}
	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	_, err = Decode(data[:len(data)-3])
	if !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("Decode() error = %v, want ErrInvalidMessage", err)
	}
}

func TestMessageReaderWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewMessageWriter(&buf)
	r := NewMessageReader(&buf)

	sent := []Message{
		{Type: MsgIPRequest},
		{Type: MsgIPReply, Payload: []byte("10.0.0.5")},
		{Type: MsgNetRequest, Payload: bytes.Repeat([]byte{0x11}, 1500)},
		{Type: MsgHeartbeat},
	}

	for i := range sent {
		if err := w.Write(&sent[i]); err != nil {
			t.Fatalf("Write(%d) error: %v", i, err)
		}
	}

	for i := range sent {
		got, err := r.Read()
		if err != nil {
			t.Fatalf("Read(%d) error: %v", i, err)
		}
		if got.Type != sent[i].Type {
			t.Errorf("message %d: Type = %d, want %d", i, got.Type, sent[i].Type)
		}
		if !bytes.Equal(got.Payload, sent[i].Payload) {
			t.Errorf("message %d: payload mismatch", i)
		}
	}
}

func TestMessageReader_TruncatedStream(t *testing.T) {
	msg := Message{Type: MsgNetReply, Payload: []byte("partial")}
	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	r := NewMessageReader(bytes.NewReader(data[:HeaderSize+2]))
	if _, err := r.Read(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Read() error = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestMessageReader_BadHeaderIsFatal(t *testing.T) {
	// A header declaring an oversized message must fail without consuming
	// anything beyond the header; the stream is unusable afterwards.
	bad := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(bad, 1<<30)
	bad[4] = MsgNetReply

	r := NewMessageReader(bytes.NewReader(bad))
	if _, err := r.Read(); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("Read() error = %v, want ErrPayloadTooLarge", err)
	}
}
