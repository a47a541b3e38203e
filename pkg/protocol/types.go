package protocol

import "fmt"

// Protocol constants
const (
	// Magic number for the plaintext handshake prologue ('CDZA')
	HandshakeMagic = 0x43445A41

	// Protocol version
	Version = 0x0001 // v1

	// MaxFramePayload bounds a decoded frame payload. The outer length
	// field is 16 bits and covers the 3-byte inner header too.
	MaxFramePayload = 0xFFFF - 3

	// MaxMercuryPart is the largest single Mercury payload part; larger
	// payloads are split across parts.
	MaxMercuryPart = 0xF000
)

// Command identifies the purpose of a frame. The set is closed: commands
// the client does not understand are reported as unknown by String and
// dropped by the dispatcher.
type Command uint8

// Commands
const (
	// Keep-alive
	CmdPing    Command = 0x04
	CmdPong    Command = 0x49
	CmdPongAck Command = 0x4a

	// Streaming channels
	CmdStreamChunk    Command = 0x08
	CmdStreamChunkRes Command = 0x09
	CmdChannelError   Command = 0x0a

	// Audio keys
	CmdRequestKey  Command = 0x0c
	CmdKeyResponse Command = 0x0d
	CmdKeyError    Command = 0x0e

	// Service information
	CmdCountryCode Command = 0x1b

	// Authentication (over the encrypted channel)
	CmdLogin       Command = 0xab
	CmdWelcome     Command = 0xac
	CmdAuthFailure Command = 0xad

	// Mercury
	CmdMercuryReq   Command = 0xb2
	CmdMercurySub   Command = 0xb3
	CmdMercuryUnsub Command = 0xb4
	CmdMercuryEvent Command = 0xb5
)

// String returns the command mnemonic, or unknown(0xNN) for commands
// outside the closed set.
func (c Command) String() string {
	switch c {
	case CmdPing:
		return "Ping"
	case CmdPong:
		return "Pong"
	case CmdPongAck:
		return "PongAck"
	case CmdStreamChunk:
		return "StreamChunk"
	case CmdStreamChunkRes:
		return "StreamChunkRes"
	case CmdChannelError:
		return "ChannelError"
	case CmdRequestKey:
		return "RequestKey"
	case CmdKeyResponse:
		return "KeyResponse"
	case CmdKeyError:
		return "KeyError"
	case CmdCountryCode:
		return "CountryCode"
	case CmdLogin:
		return "Login"
	case CmdWelcome:
		return "Welcome"
	case CmdAuthFailure:
		return "AuthFailure"
	case CmdMercuryReq:
		return "MercuryReq"
	case CmdMercurySub:
		return "MercurySub"
	case CmdMercuryUnsub:
		return "MercuryUnsub"
	case CmdMercuryEvent:
		return "MercuryEvent"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(c))
	}
}

// Known reports whether the command belongs to the closed set.
func (c Command) Known() bool {
	switch c {
	case CmdPing, CmdPong, CmdPongAck,
		CmdStreamChunk, CmdStreamChunkRes, CmdChannelError,
		CmdRequestKey, CmdKeyResponse, CmdKeyError,
		CmdCountryCode,
		CmdLogin, CmdWelcome, CmdAuthFailure,
		CmdMercuryReq, CmdMercurySub, CmdMercuryUnsub, CmdMercuryEvent:
		return true
	}
	return false
}

// ResourceID identifies a stored media object (20 bytes)
type ResourceID [20]byte

// TrackID identifies a track (16 bytes)
type TrackID [16]byte

// AudioKey is a 16-byte content decryption key
type AudioKey [16]byte

// StatusOK reports whether a Mercury status code is in the 2xx range.
func StatusOK(status uint16) bool {
	return status >= 200 && status < 300
}
