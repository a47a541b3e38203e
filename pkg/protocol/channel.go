package protocol

import (
	"encoding/binary"
	"errors"
)

var (
	ErrInvalidChunkRequest = errors.New("invalid chunk request")
	ErrInvalidChunkData    = errors.New("invalid chunk data")
)

// ChunkRequest asks the service to stream one byte range of a resource
// over a channel.
type ChunkRequest struct {
	ChannelID  uint16
	ResourceID ResourceID
	Offset     uint32 // in bytes
	Length     uint32 // in bytes
}

const chunkRequestSize = 2 + 20 + 4 + 4

// Encode encodes the chunk request payload.
func (r *ChunkRequest) Encode() []byte {
	buf := make([]byte, chunkRequestSize)
	binary.BigEndian.PutUint16(buf[0:2], r.ChannelID)
	copy(buf[2:22], r.ResourceID[:])
	binary.BigEndian.PutUint32(buf[22:26], r.Offset)
	binary.BigEndian.PutUint32(buf[26:30], r.Length)
	return buf
}

// DecodeChunkRequest decodes a chunk request payload.
func DecodeChunkRequest(buf []byte) (*ChunkRequest, error) {
	if len(buf) < chunkRequestSize {
		return nil, ErrInvalidChunkRequest
	}

	r := &ChunkRequest{
		ChannelID: binary.BigEndian.Uint16(buf[0:2]),
		Offset:    binary.BigEndian.Uint32(buf[22:26]),
		Length:    binary.BigEndian.Uint32(buf[26:30]),
	}
	copy(r.ResourceID[:], buf[2:22])

	return r, nil
}

// ParseChunkData splits a chunk data payload into its channel id and data.
// Empty data is the end-of-channel terminator.
func ParseChunkData(buf []byte) (uint16, []byte, error) {
	if len(buf) < 2 {
		return 0, nil, ErrInvalidChunkData
	}

	data := make([]byte, len(buf)-2)
	copy(data, buf[2:])
	return binary.BigEndian.Uint16(buf[0:2]), data, nil
}

// ParseChannelError splits a channel error payload into channel id and
// error code.
func ParseChannelError(buf []byte) (uint16, uint16, error) {
	if len(buf) < 4 {
		return 0, 0, ErrInvalidChunkData
	}
	return binary.BigEndian.Uint16(buf[0:2]), binary.BigEndian.Uint16(buf[2:4]), nil
}

// ===== AUDIO KEY EXCHANGE =====

var ErrInvalidKeyPayload = errors.New("invalid key payload")

// KeyRequest asks for the content key of a track within a resource.
type KeyRequest struct {
	ResourceID ResourceID
	TrackID    TrackID
	Seq        uint32
}

const keyRequestSize = 20 + 16 + 4 + 2

// Encode encodes the key request payload.
func (r *KeyRequest) Encode() []byte {
	buf := make([]byte, keyRequestSize)
	copy(buf[0:20], r.ResourceID[:])
	copy(buf[20:36], r.TrackID[:])
	binary.BigEndian.PutUint32(buf[36:40], r.Seq)
	// trailing uint16 is zero in protocol version 1
	return buf
}

// DecodeKeyRequest decodes a key request payload.
func DecodeKeyRequest(buf []byte) (*KeyRequest, error) {
	if len(buf) < keyRequestSize {
		return nil, ErrInvalidKeyPayload
	}

	r := &KeyRequest{Seq: binary.BigEndian.Uint32(buf[36:40])}
	copy(r.ResourceID[:], buf[0:20])
	copy(r.TrackID[:], buf[20:36])
	return r, nil
}

// ParseKeyResponse splits a key response payload into sequence and key.
func ParseKeyResponse(buf []byte) (uint32, AudioKey, error) {
	var key AudioKey
	if len(buf) < 4+len(key) {
		return 0, key, ErrInvalidKeyPayload
	}

	copy(key[:], buf[4:4+len(key)])
	return binary.BigEndian.Uint32(buf[0:4]), key, nil
}

// ParseKeyError splits a key error payload into sequence and error code.
func ParseKeyError(buf []byte) (uint32, uint16, error) {
	if len(buf) < 6 {
		return 0, 0, ErrInvalidKeyPayload
	}
	return binary.BigEndian.Uint32(buf[0:4]), binary.BigEndian.Uint16(buf[4:6]), nil
}
