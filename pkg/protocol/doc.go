// Package protocol defines the Cadenza session wire format.
//
// The protocol package holds the command identifiers, frame codecs and
// payload layouts shared by the session transport, the Mercury multiplexer
// and the channel manager. It contains no I/O or session state; everything
// here is pure encoding and decoding.
//
// # Wire Overview
//
// After the handshake every byte on the wire belongs to an encrypted frame:
//
//	uint16 BE length | ciphertext(length bytes) | MAC(4 bytes)
//
// The ciphertext decrypts to an inner frame:
//
//	uint8 command | uint16 BE payload_length | payload
//
// Each direction runs its own Shannon cipher state; the frame counter is
// the cipher nonce, so frames must be decoded in the exact order they were
// produced.
//
// # Command Groups
//
// Keep-alive (0x04, 0x49, 0x4a): Ping from the service, Pong reply,
// PongAck.
//
// Streaming channels (0x08 - 0x0a): chunk requests, chunk data and
// channel errors, correlated by a 16-bit channel id at the front of the
// payload.
//
// Audio keys (0x0c - 0x0e): content key request/response/error,
// correlated by a 32-bit sequence.
//
// Authentication (0xab - 0xad): login over the encrypted channel, welcome
// with a reusable credential, or rejection.
//
// Mercury (0xb2 - 0xb5): URI-addressed request/response and
// publish/subscribe envelopes, correlated by a per-session sequence id.
//
// # Mercury Envelope
//
// A Mercury frame payload is:
//
//	uint16 seq_len | seq(seq_len bytes, BE) | uint8 flags | uint16 part_count
//	part_count x ( uint16 len | bytes )
//
// flags bit 0 marks the final fragment of an exchange. The first part of a
// request or terminal response is the Mercury header:
//
//	uint8 method | uint16 status | uint16 uri_len | uri
//
// These byte layouts are the wire contract of record for protocol
// version 1 and must not change shape without a version bump.
package protocol
