package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// ===== SESSION KEY AGREEMENT =====
// Each connection starts with an ephemeral X25519 exchange. The shared
// secret plus the full hello/response transcript feed a KDF that produces
// three independent keys: the challenge key (proves possession during the
// handshake) and the send/receive Shannon keys.

const (
	sessionKeyInfo = "Cadenza Session Keys v1"

	// SessionKeySize is the length of each derived session key.
	SessionKeySize = 32
)

var (
	ErrInvalidPublicKey = errors.New("invalid public key")
	ErrBadSignature     = errors.New("server signature verification failed")
)

// KeyPair is an ephemeral X25519 key pair used for one handshake.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// SessionKeys holds the key material derived from one handshake.
type SessionKeys struct {
	Challenge [SessionKeySize]byte // MAC key proving possession
	SendKey   [SessionKeySize]byte // Shannon key, client -> server
	RecvKey   [SessionKeySize]byte // Shannon key, server -> client
}

// GenerateKeyPair generates an ephemeral X25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	kp := &KeyPair{}
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return nil, err
	}

	curve25519.ScalarBaseMult(&kp.Public, &kp.Private)
	return kp, nil
}

// SharedSecret computes the X25519 shared secret with the peer's public key.
func (kp *KeyPair) SharedSecret(peerPublic [32]byte) ([]byte, error) {
	secret, err := curve25519.X25519(kp.Private[:], peerPublic[:])
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	return secret, nil
}

// DeriveSessionKeys derives the challenge/send/receive keys from the shared
// secret and the handshake transcript (client hello || server response).
// The transcript hash salts the KDF so the keys bind the exact bytes both
// sides exchanged.
func DeriveSessionKeys(secret []byte, transcript []byte) (*SessionKeys, error) {
	salt := sha256.Sum256(transcript)
	reader := hkdf.New(sha256.New, secret, salt[:], []byte(sessionKeyInfo))

	keys := &SessionKeys{}
	if _, err := io.ReadFull(reader, keys.Challenge[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, keys.SendKey[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, keys.RecvKey[:]); err != nil {
		return nil, err
	}

	return keys, nil
}

// VerifyServerSignature verifies the service's signature over its handshake
// public value against a pinned ed25519 key.
func VerifyServerSignature(pinned ed25519.PublicKey, serverPublic []byte, signature []byte) error {
	if len(pinned) != ed25519.PublicKeySize {
		return ErrInvalidPublicKey
	}
	if !ed25519.Verify(pinned, serverPublic, signature) {
		return ErrBadSignature
	}
	return nil
}

// DeviceID derives the stable device identifier from the device name.
func DeviceID(name string) string {
	sum := sha1.Sum([]byte(name))
	return hex.EncodeToString(sum[:])
}
