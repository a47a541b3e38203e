package session

import (
	"errors"
	"fmt"
)

var (
	// ErrHandshakeFailed covers key-agreement and signature failures.
	// Fatal for the attempt; retried only by a caller-level reconnect.
	ErrHandshakeFailed = errors.New("handshake failed")

	// ErrAuthRejected means the service refused the credentials. Not
	// retried automatically; the caller must re-prompt or re-provision.
	ErrAuthRejected = errors.New("authentication rejected")

	// ErrMACMismatch and ErrFrameTooLong are framing errors. Either one
	// tears the session down.
	ErrMACMismatch  = errors.New("frame MAC mismatch")
	ErrFrameTooLong = errors.New("frame length exceeds configured maximum")

	// ErrConnectionLost is the session-wide failure every pending exchange
	// receives when the connection dies.
	ErrConnectionLost = errors.New("connection lost")

	// ErrSessionClosed is returned for work submitted after Shutdown.
	ErrSessionClosed = errors.New("session closed")

	// ErrTimeout is returned when a caller-supplied timeout expires.
	ErrTimeout = errors.New("request timed out")
)

// MercuryError reports a non-2xx status for a single exchange. It is
// scoped to that exchange and does not affect the session.
type MercuryError struct {
	URI    string
	Status uint16
}

func (e *MercuryError) Error() string {
	return fmt.Sprintf("mercury %s: status %d", e.URI, e.Status)
}

// ChannelError reports a failed chunk fetch, scoped to that one channel.
type ChannelError struct {
	ChannelID uint16
	Code      uint16
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %d: error code %d", e.ChannelID, e.Code)
}

// AudioKeyError reports a refused audio key request.
type AudioKeyError struct {
	Code uint16
}

func (e *AudioKeyError) Error() string {
	return fmt.Sprintf("audio key refused: code %d", e.Code)
}
