package protocol

import (
	"encoding/binary"
	"errors"
)

var (
	ErrFrameTooShort    = errors.New("frame too short")
	ErrPayloadTooLarge  = errors.New("frame payload exceeds maximum")
	ErrPayloadTruncated = errors.New("frame payload truncated")
)

// Frame is one decrypted unit on the wire: a command identifier and its
// opaque payload.
type Frame struct {
	Cmd     Command
	Payload []byte
}

// FrameHeaderSize is the length of the inner frame header.
const FrameHeaderSize = 3

// Encode encodes the frame to its inner wire form.
func (f *Frame) Encode() ([]byte, error) {
	if len(f.Payload) > MaxFramePayload {
		return nil, ErrPayloadTooLarge
	}

	buf := make([]byte, FrameHeaderSize+len(f.Payload))
	buf[0] = byte(f.Cmd)
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(f.Payload)))
	copy(buf[FrameHeaderSize:], f.Payload)

	return buf, nil
}

// DecodeFrame decodes an inner frame from decrypted bytes.
func DecodeFrame(buf []byte) (*Frame, error) {
	if len(buf) < FrameHeaderSize {
		return nil, ErrFrameTooShort
	}

	length := binary.BigEndian.Uint16(buf[1:3])
	if len(buf) < FrameHeaderSize+int(length) {
		return nil, ErrPayloadTruncated
	}

	payload := make([]byte, length)
	copy(payload, buf[FrameHeaderSize:FrameHeaderSize+int(length)])

	return &Frame{
		Cmd:     Command(buf[0]),
		Payload: payload,
	}, nil
}
