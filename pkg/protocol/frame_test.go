package protocol

import (
	"bytes"
	"testing"
)

func TestFrameEncodeDecode(t *testing.T) {
	tests := []struct {
		name  string
		frame *Frame
	}{
		{"ping with empty payload", &Frame{Cmd: CmdPing, Payload: []byte{}}},
		{"mercury request", &Frame{Cmd: CmdMercuryReq, Payload: []byte("envelope bytes")}},
		{"chunk data", &Frame{Cmd: CmdStreamChunkRes, Payload: bytes.Repeat([]byte{0xEE}, 1024)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := tt.frame.Encode()
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if len(encoded) != FrameHeaderSize+len(tt.frame.Payload) {
				t.Errorf("Encode() length = %d, want %d", len(encoded), FrameHeaderSize+len(tt.frame.Payload))
			}

			decoded, err := DecodeFrame(encoded)
			if err != nil {
				t.Fatalf("DecodeFrame() error = %v", err)
			}
			if decoded.Cmd != tt.frame.Cmd {
				t.Errorf("Cmd = %v, want %v", decoded.Cmd, tt.frame.Cmd)
			}
			if !bytes.Equal(decoded.Payload, tt.frame.Payload) {
				t.Errorf("Payload mismatch")
			}
		})
	}
}

func TestFrameEncodeTooLarge(t *testing.T) {
	f := &Frame{Cmd: CmdMercuryReq, Payload: make([]byte, MaxFramePayload+1)}
	if _, err := f.Encode(); err != ErrPayloadTooLarge {
		t.Errorf("Encode() error = %v, want %v", err, ErrPayloadTooLarge)
	}
}

func TestDecodeFrameErrors(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		want error
	}{
		{"too short", []byte{0x04}, ErrFrameTooShort},
		{"truncated payload", []byte{0x04, 0x00, 0x05, 0x01}, ErrPayloadTruncated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeFrame(tt.buf); err != tt.want {
				t.Errorf("DecodeFrame() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCommandString(t *testing.T) {
	if got := CmdMercuryReq.String(); got != "MercuryReq" {
		t.Errorf("String() = %q, want %q", got, "MercuryReq")
	}
	if got := Command(0x77).String(); got != "unknown(0x77)" {
		t.Errorf("String() = %q, want %q", got, "unknown(0x77)")
	}
	if Command(0x77).Known() {
		t.Error("Known() = true for unknown command")
	}
}
