package session

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/CadenzaCast/cadenza-client/pkg/crypto"
	"github.com/CadenzaCast/cadenza-client/pkg/protocol"
)

// ===== CONNECTION HANDSHAKE =====
// The handshake is the only plaintext traffic on a connection. The client
// sends a hello with its ephemeral public value; the service replies with
// its own public value signed by the pinned service key; both sides derive
// challenge/send/receive keys from the shared secret and the transcript of
// the two messages, and the client proves possession with an HMAC over the
// transcript. Everything after that is Shannon-encrypted frames.

const (
	// maxPlainFrame bounds the plaintext handshake messages.
	maxPlainFrame = 8192

	helloNonceSize = 16
)

// clientHello is the first handshake message.
type clientHello struct {
	Version  uint16
	Features uint16
	Public   [32]byte
	Nonce    [helloNonceSize]byte
}

func (h *clientHello) encode() []byte {
	buf := make([]byte, 4+2+2+32+2+helloNonceSize)
	offset := 0

	binary.BigEndian.PutUint32(buf[offset:], protocol.HandshakeMagic)
	offset += 4
	binary.BigEndian.PutUint16(buf[offset:], h.Version)
	offset += 2
	binary.BigEndian.PutUint16(buf[offset:], h.Features)
	offset += 2
	copy(buf[offset:], h.Public[:])
	offset += 32
	binary.BigEndian.PutUint16(buf[offset:], helloNonceSize)
	offset += 2
	copy(buf[offset:], h.Nonce[:])

	return buf
}

func decodeClientHello(buf []byte) (*clientHello, error) {
	if len(buf) < 4+2+2+32+2+helloNonceSize {
		return nil, ErrHandshakeFailed
	}
	if binary.BigEndian.Uint32(buf[0:4]) != protocol.HandshakeMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrHandshakeFailed)
	}
	if binary.BigEndian.Uint16(buf[40:42]) != helloNonceSize {
		return nil, fmt.Errorf("%w: bad nonce length", ErrHandshakeFailed)
	}

	h := &clientHello{
		Version:  binary.BigEndian.Uint16(buf[4:6]),
		Features: binary.BigEndian.Uint16(buf[6:8]),
	}
	copy(h.Public[:], buf[8:40])
	copy(h.Nonce[:], buf[42:42+helloNonceSize])

	return h, nil
}

// serverResponse is the service's handshake reply.
type serverResponse struct {
	Public    [32]byte
	Signature []byte
	Padding   []byte
}

func (r *serverResponse) encode() []byte {
	buf := make([]byte, 32+2+len(r.Signature)+2+len(r.Padding))
	offset := 0

	copy(buf[offset:], r.Public[:])
	offset += 32
	binary.BigEndian.PutUint16(buf[offset:], uint16(len(r.Signature)))
	offset += 2
	copy(buf[offset:], r.Signature)
	offset += len(r.Signature)
	binary.BigEndian.PutUint16(buf[offset:], uint16(len(r.Padding)))
	offset += 2
	copy(buf[offset:], r.Padding)

	return buf
}

func decodeServerResponse(buf []byte) (*serverResponse, error) {
	if len(buf) < 32+2 {
		return nil, ErrHandshakeFailed
	}

	r := &serverResponse{}
	copy(r.Public[:], buf[0:32])
	offset := 32

	sigLen := int(binary.BigEndian.Uint16(buf[offset:]))
	offset += 2
	if len(buf) < offset+sigLen+2 {
		return nil, ErrHandshakeFailed
	}
	r.Signature = make([]byte, sigLen)
	copy(r.Signature, buf[offset:offset+sigLen])
	offset += sigLen

	padLen := int(binary.BigEndian.Uint16(buf[offset:]))
	offset += 2
	if len(buf) < offset+padLen {
		return nil, ErrHandshakeFailed
	}
	r.Padding = make([]byte, padLen)
	copy(r.Padding, buf[offset:offset+padLen])

	return r, nil
}

// writePlainFrame writes one length-delimited plaintext handshake message.
func writePlainFrame(conn net.Conn, payload []byte) error {
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(payload)))
	copy(buf[4:], payload)

	_, err := conn.Write(buf)
	return err
}

// readPlainFrame reads one length-delimited plaintext handshake message.
func readPlainFrame(conn net.Conn) ([]byte, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(conn, lengthBuf[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length > maxPlainFrame {
		return nil, ErrFrameTooLong
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// challengeMAC computes the possession proof over the handshake transcript.
func challengeMAC(keys *crypto.SessionKeys, transcript []byte) []byte {
	mac := hmac.New(sha256.New, keys.Challenge[:])
	mac.Write(transcript)
	return mac.Sum(nil)
}

// performHandshake runs the client side of the handshake and returns the
// derived session keys. On any verification failure the connection is
// unusable and the caller must close it.
func performHandshake(conn net.Conn, cfg *Config) (*crypto.SessionKeys, error) {
	keyPair, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	hello := &clientHello{
		Version:  protocol.Version,
		Features: cfg.Features,
		Public:   keyPair.Public,
	}
	if _, err := rand.Read(hello.Nonce[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	helloBytes := hello.encode()
	if err := writePlainFrame(conn, helloBytes); err != nil {
		return nil, fmt.Errorf("%w: send hello: %v", ErrHandshakeFailed, err)
	}

	responseBytes, err := readPlainFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrHandshakeFailed, err)
	}

	response, err := decodeServerResponse(responseBytes)
	if err != nil {
		return nil, err
	}

	// the service signs its ephemeral public value with the pinned key
	if err := crypto.VerifyServerSignature(cfg.ServerKey, response.Public[:], response.Signature); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	secret, err := keyPair.SharedSecret(response.Public)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	transcript := bytes.Join([][]byte{helloBytes, responseBytes}, nil)
	keys, err := crypto.DeriveSessionKeys(secret, transcript)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	if err := writePlainFrame(conn, challengeMAC(keys, transcript)); err != nil {
		return nil, fmt.Errorf("%w: send challenge: %v", ErrHandshakeFailed, err)
	}

	return keys, nil
}
