package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// ===== CREDENTIAL BLOB SEALING =====
// Reusable credentials are stored and handed between devices as a sealed
// blob: AES-256-GCM under a key stretched from the device identifier and a
// shared pairing secret. The discovery addUser flow and the on-disk
// credential cache both use this format.

const (
	blobKeyIterations = 0x100
	blobKeySize       = 32
)

var ErrBlobTooShort = errors.New("credential blob too short")

// DeriveBlobKey stretches the pairing secret with the device ID as salt.
func DeriveBlobKey(deviceID string, secret []byte) []byte {
	return pbkdf2.Key(secret, []byte(deviceID), blobKeyIterations, blobKeySize, sha1.New)
}

// SealBlob encrypts plaintext under the blob key. The nonce is prepended.
func SealBlob(key []byte, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// OpenBlob decrypts a blob produced by SealBlob.
func OpenBlob(key []byte, blob []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(blob) < nonceSize {
		return nil, ErrBlobTooShort
	}

	nonce, ciphertext := blob[:nonceSize], blob[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open credential blob: %w", err)
	}

	return plaintext, nil
}
