package session

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/CadenzaCast/cadenza-client/pkg/crypto"
	"github.com/CadenzaCast/cadenza-client/pkg/protocol"
)

// cipherConn frames and encrypts traffic on one connection. Each direction
// has its own Shannon state and frame counter; the counter is the cipher
// nonce, so frame order on the wire is part of the integrity contract.
//
// Writes are serialized by sendMu: whoever holds it defines the total
// order of outbound bytes. Reads are only ever performed by the session
// receive loop, so the receive state needs no lock.
type cipherConn struct {
	conn net.Conn

	sendMu    sync.Mutex
	send      *crypto.Shannon
	sendNonce uint32

	recv      *crypto.Shannon
	recvNonce uint32

	maxPayload int
}

func newCipherConn(conn net.Conn, sendKey, recvKey []byte, maxPayload int) *cipherConn {
	if maxPayload <= 0 || maxPayload > protocol.MaxFramePayload {
		maxPayload = protocol.MaxFramePayload
	}
	return &cipherConn{
		conn:       conn,
		send:       crypto.NewShannon(sendKey),
		recv:       crypto.NewShannon(recvKey),
		maxPayload: maxPayload,
	}
}

// WriteFrame encrypts and writes one frame. Safe for concurrent use.
func (c *cipherConn) WriteFrame(cmd protocol.Command, payload []byte) error {
	frame := &protocol.Frame{Cmd: cmd, Payload: payload}
	inner, err := frame.Encode()
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	var nonce [4]byte
	binary.BigEndian.PutUint32(nonce[:], c.sendNonce)
	c.sendNonce++
	c.send.Nonce(nonce[:])

	wire := make([]byte, 2+len(inner)+crypto.MACSize)
	binary.BigEndian.PutUint16(wire[0:2], uint16(len(inner)))
	copy(wire[2:], inner)

	c.send.Encrypt(wire[2 : 2+len(inner)])
	c.send.Finish(wire[2+len(inner):])

	if _, err := c.conn.Write(wire); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads, decrypts and verifies one frame. Not safe for
// concurrent use; only the receive loop calls it.
func (c *cipherConn) ReadFrame() (*protocol.Frame, error) {
	var lengthBuf [2]byte
	if _, err := io.ReadFull(c.conn, lengthBuf[:]); err != nil {
		return nil, err
	}

	length := int(binary.BigEndian.Uint16(lengthBuf[:]))
	if length < protocol.FrameHeaderSize {
		return nil, protocol.ErrFrameTooShort
	}
	if length > c.maxPayload+protocol.FrameHeaderSize {
		return nil, ErrFrameTooLong
	}

	body := make([]byte, length+crypto.MACSize)
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return nil, err
	}

	var nonce [4]byte
	binary.BigEndian.PutUint32(nonce[:], c.recvNonce)
	c.recvNonce++
	c.recv.Nonce(nonce[:])

	c.recv.Decrypt(body[:length])
	if !c.recv.CheckMAC(body[length:]) {
		return nil, ErrMACMismatch
	}

	return protocol.DecodeFrame(body[:length])
}

// Close closes the underlying connection.
func (c *cipherConn) Close() error {
	return c.conn.Close()
}
