package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrInvalidEnvelope = errors.New("invalid mercury envelope")
	ErrInvalidHeader   = errors.New("invalid mercury header")
)

// Mercury methods
type Method uint8

const (
	MethodGet   Method = 0x01
	MethodSub   Method = 0x02
	MethodUnsub Method = 0x03
	MethodSend  Method = 0x04
)

// String returns the method verb.
func (m Method) String() string {
	switch m {
	case MethodGet:
		return "GET"
	case MethodSub:
		return "SUB"
	case MethodUnsub:
		return "UNSUB"
	case MethodSend:
		return "SEND"
	default:
		return fmt.Sprintf("method(0x%02x)", uint8(m))
	}
}

// Command returns the frame command that carries this method.
func (m Method) Command() Command {
	switch m {
	case MethodSub:
		return CmdMercurySub
	case MethodUnsub:
		return CmdMercuryUnsub
	default:
		return CmdMercuryReq
	}
}

// Envelope flags
const (
	FlagFinal   uint8 = 0x01 // last fragment of this exchange
	FlagPartial uint8 = 0x02 // more fragments follow
)

// MercuryHeader is the first part of every Mercury request and terminal
// response: method, status code and resource URI.
type MercuryHeader struct {
	Method Method
	Status uint16
	URI    string
}

// Encode encodes the header part.
func (h *MercuryHeader) Encode() []byte {
	buf := make([]byte, 5+len(h.URI))
	buf[0] = byte(h.Method)
	binary.BigEndian.PutUint16(buf[1:3], h.Status)
	binary.BigEndian.PutUint16(buf[3:5], uint16(len(h.URI)))
	copy(buf[5:], h.URI)
	return buf
}

// DecodeMercuryHeader decodes a header part.
func DecodeMercuryHeader(buf []byte) (*MercuryHeader, error) {
	if len(buf) < 5 {
		return nil, ErrInvalidHeader
	}

	uriLen := binary.BigEndian.Uint16(buf[3:5])
	if len(buf) < 5+int(uriLen) {
		return nil, ErrInvalidHeader
	}

	return &MercuryHeader{
		Method: Method(buf[0]),
		Status: binary.BigEndian.Uint16(buf[1:3]),
		URI:    string(buf[5 : 5+int(uriLen)]),
	}, nil
}

// Envelope is the decoded form of one Mercury frame payload: a sequence
// id, fragment flags and the payload parts it carries.
type Envelope struct {
	Seq   uint64
	Flags uint8
	Parts [][]byte
}

// Final reports whether this envelope completes its exchange.
func (e *Envelope) Final() bool {
	return e.Flags&FlagFinal != 0
}

// Encode encodes the envelope to a frame payload. Sequence ids are always
// written with an 8-byte encoding.
func (e *Envelope) Encode() []byte {
	size := 2 + 8 + 1 + 2
	for _, p := range e.Parts {
		size += 2 + len(p)
	}

	buf := make([]byte, size)
	offset := 0

	binary.BigEndian.PutUint16(buf[offset:], 8)
	offset += 2
	binary.BigEndian.PutUint64(buf[offset:], e.Seq)
	offset += 8
	buf[offset] = e.Flags
	offset++
	binary.BigEndian.PutUint16(buf[offset:], uint16(len(e.Parts)))
	offset += 2

	for _, p := range e.Parts {
		binary.BigEndian.PutUint16(buf[offset:], uint16(len(p)))
		offset += 2
		copy(buf[offset:], p)
		offset += len(p)
	}

	return buf
}

// DecodeEnvelope decodes a Mercury frame payload. Peers may encode the
// sequence id in 2, 4 or 8 bytes.
func DecodeEnvelope(buf []byte) (*Envelope, error) {
	if len(buf) < 2 {
		return nil, ErrInvalidEnvelope
	}

	seqLen := binary.BigEndian.Uint16(buf[0:2])
	offset := 2

	if seqLen != 2 && seqLen != 4 && seqLen != 8 {
		return nil, fmt.Errorf("%w: sequence length %d", ErrInvalidEnvelope, seqLen)
	}
	if len(buf) < offset+int(seqLen)+3 {
		return nil, ErrInvalidEnvelope
	}

	var seq uint64
	for i := 0; i < int(seqLen); i++ {
		seq = seq<<8 | uint64(buf[offset+i])
	}
	offset += int(seqLen)

	env := &Envelope{Seq: seq, Flags: buf[offset]}
	offset++

	count := binary.BigEndian.Uint16(buf[offset:])
	offset += 2

	env.Parts = make([][]byte, 0, count)
	for i := 0; i < int(count); i++ {
		if len(buf) < offset+2 {
			return nil, fmt.Errorf("%w: truncated part %d", ErrInvalidEnvelope, i)
		}
		partLen := binary.BigEndian.Uint16(buf[offset:])
		offset += 2

		if len(buf) < offset+int(partLen) {
			return nil, fmt.Errorf("%w: truncated part %d", ErrInvalidEnvelope, i)
		}
		part := make([]byte, partLen)
		copy(part, buf[offset:offset+int(partLen)])
		env.Parts = append(env.Parts, part)
		offset += int(partLen)
	}

	return env, nil
}

// SplitPart splits a payload into parts no larger than max. An empty
// payload yields a single empty part.
func SplitPart(data []byte, max int) [][]byte {
	if len(data) <= max {
		return [][]byte{data}
	}

	var parts [][]byte
	for len(data) > max {
		parts = append(parts, data[:max])
		data = data[max:]
	}
	return append(parts, data)
}
