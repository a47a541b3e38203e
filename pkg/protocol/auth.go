package protocol

import (
	"encoding/binary"
	"errors"
)

var ErrInvalidAuthPayload = errors.New("invalid auth payload")

// Authentication types
const (
	AuthTypePassword uint8 = 0x00
	AuthTypeToken    uint8 = 0x01
)

// LoginRequest is the first exchange on the encrypted channel: device
// credentials, either an interactive password or a stored reusable token.
type LoginRequest struct {
	Username string
	AuthType uint8
	AuthData []byte // password bytes or reusable token
	DeviceID string
}

// Encode encodes the login payload.
func (r *LoginRequest) Encode() []byte {
	size := 2 + len(r.Username) + 1 + 2 + len(r.AuthData) + 2 + len(r.DeviceID)
	buf := make([]byte, size)
	offset := 0

	binary.BigEndian.PutUint16(buf[offset:], uint16(len(r.Username)))
	offset += 2
	copy(buf[offset:], r.Username)
	offset += len(r.Username)

	buf[offset] = r.AuthType
	offset++

	binary.BigEndian.PutUint16(buf[offset:], uint16(len(r.AuthData)))
	offset += 2
	copy(buf[offset:], r.AuthData)
	offset += len(r.AuthData)

	binary.BigEndian.PutUint16(buf[offset:], uint16(len(r.DeviceID)))
	offset += 2
	copy(buf[offset:], r.DeviceID)

	return buf
}

// DecodeLoginRequest decodes a login payload.
func DecodeLoginRequest(buf []byte) (*LoginRequest, error) {
	r := &LoginRequest{}
	offset := 0

	username, offset, err := readLengthPrefixed(buf, offset)
	if err != nil {
		return nil, err
	}
	r.Username = string(username)

	if len(buf) < offset+1 {
		return nil, ErrInvalidAuthPayload
	}
	r.AuthType = buf[offset]
	offset++

	r.AuthData, offset, err = readLengthPrefixed(buf, offset)
	if err != nil {
		return nil, err
	}

	deviceID, _, err := readLengthPrefixed(buf, offset)
	if err != nil {
		return nil, err
	}
	r.DeviceID = string(deviceID)

	return r, nil
}

// Welcome is the service's reply to a successful login. It carries the
// canonical username and a reusable credential for later logins.
type Welcome struct {
	Username      string
	ReusableToken []byte
}

// Encode encodes the welcome payload.
func (w *Welcome) Encode() []byte {
	buf := make([]byte, 2+len(w.Username)+2+len(w.ReusableToken))
	offset := 0

	binary.BigEndian.PutUint16(buf[offset:], uint16(len(w.Username)))
	offset += 2
	copy(buf[offset:], w.Username)
	offset += len(w.Username)

	binary.BigEndian.PutUint16(buf[offset:], uint16(len(w.ReusableToken)))
	offset += 2
	copy(buf[offset:], w.ReusableToken)

	return buf
}

// DecodeWelcome decodes a welcome payload.
func DecodeWelcome(buf []byte) (*Welcome, error) {
	username, offset, err := readLengthPrefixed(buf, 0)
	if err != nil {
		return nil, err
	}

	token, _, err := readLengthPrefixed(buf, offset)
	if err != nil {
		return nil, err
	}

	return &Welcome{Username: string(username), ReusableToken: token}, nil
}

// Authentication failure codes
const (
	AuthErrBadCredentials uint16 = 0x0001
	AuthErrAccountLocked  uint16 = 0x0002
	AuthErrTokenExpired   uint16 = 0x0003
)

// EncodeAuthFailure encodes an authentication failure payload.
func EncodeAuthFailure(code uint16) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, code)
	return buf
}

// DecodeAuthFailure decodes an authentication failure payload.
func DecodeAuthFailure(buf []byte) (uint16, error) {
	if len(buf) < 2 {
		return 0, ErrInvalidAuthPayload
	}
	return binary.BigEndian.Uint16(buf[0:2]), nil
}

// readLengthPrefixed reads one uint16-length-prefixed field.
func readLengthPrefixed(buf []byte, offset int) ([]byte, int, error) {
	if len(buf) < offset+2 {
		return nil, 0, ErrInvalidAuthPayload
	}
	n := int(binary.BigEndian.Uint16(buf[offset:]))
	offset += 2

	if len(buf) < offset+n {
		return nil, 0, ErrInvalidAuthPayload
	}
	field := make([]byte, n)
	copy(field, buf[offset:offset+n])
	return field, offset + n, nil
}
