package crypto

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i * 7)
	}
	return key
}

func nonceBytes(n uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, n)
	return buf
}

func TestShannonRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", []byte{}},
		{"single byte", []byte{0x42}},
		{"word aligned", []byte("ABCDEFGH")},
		{"unaligned tail", []byte("hello, session")},
		{"three bytes", []byte{1, 2, 3}},
		{"large", bytes.Repeat([]byte{0xAB, 0xCD}, 600)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := NewShannon(testKey())
			dec := NewShannon(testKey())
			enc.Nonce(nonceBytes(0))
			dec.Nonce(nonceBytes(0))

			buf := make([]byte, len(tt.payload))
			copy(buf, tt.payload)

			enc.Encrypt(buf)
			mac := make([]byte, MACSize)
			enc.Finish(mac)

			if len(tt.payload) > 0 && bytes.Equal(buf, tt.payload) {
				t.Error("Encrypt() left payload unchanged")
			}

			dec.Decrypt(buf)
			if !bytes.Equal(buf, tt.payload) {
				t.Errorf("Decrypt() = %x, want %x", buf, tt.payload)
			}

			if !dec.CheckMAC(mac) {
				t.Error("CheckMAC() failed on untampered frame")
			}
		})
	}
}

func TestShannonTamperedCiphertext(t *testing.T) {
	enc := NewShannon(testKey())
	dec := NewShannon(testKey())
	enc.Nonce(nonceBytes(1))
	dec.Nonce(nonceBytes(1))

	buf := []byte("payload under test")
	enc.Encrypt(buf)
	mac := make([]byte, MACSize)
	enc.Finish(mac)

	// flip one bit after encryption
	buf[3] ^= 0x10

	dec.Decrypt(buf)
	if dec.CheckMAC(mac) {
		t.Error("CheckMAC() passed for tampered ciphertext")
	}
}

func TestShannonTamperedMAC(t *testing.T) {
	enc := NewShannon(testKey())
	dec := NewShannon(testKey())
	enc.Nonce(nonceBytes(2))
	dec.Nonce(nonceBytes(2))

	buf := []byte("payload under test")
	enc.Encrypt(buf)
	mac := make([]byte, MACSize)
	enc.Finish(mac)
	mac[0] ^= 0x01

	dec.Decrypt(buf)
	if dec.CheckMAC(mac) {
		t.Error("CheckMAC() passed for tampered MAC")
	}
}

// Replaying a frame under the next nonce must fail: the keystream and MAC
// state have advanced past that point.
func TestShannonReplayFails(t *testing.T) {
	enc := NewShannon(testKey())
	dec := NewShannon(testKey())

	frame := func(n uint32, payload []byte) ([]byte, []byte) {
		enc.Nonce(nonceBytes(n))
		buf := make([]byte, len(payload))
		copy(buf, payload)
		enc.Encrypt(buf)
		mac := make([]byte, MACSize)
		enc.Finish(mac)
		return buf, mac
	}

	c0, m0 := frame(0, []byte("first frame"))

	// frame 0 decodes under nonce 0
	dec.Nonce(nonceBytes(0))
	buf := make([]byte, len(c0))
	copy(buf, c0)
	dec.Decrypt(buf)
	if !dec.CheckMAC(m0) {
		t.Fatal("frame 0 failed to verify")
	}

	// replaying the same bytes under nonce 1 must not verify
	dec.Nonce(nonceBytes(1))
	copy(buf, c0)
	dec.Decrypt(buf)
	if dec.CheckMAC(m0) {
		t.Error("replayed frame verified under advanced nonce")
	}
}

func TestShannonReorderFails(t *testing.T) {
	enc := NewShannon(testKey())
	dec := NewShannon(testKey())

	payloads := [][]byte{[]byte("frame zero"), []byte("frame one")}
	frames := make([][]byte, 2)
	macs := make([][]byte, 2)

	for i, p := range payloads {
		enc.Nonce(nonceBytes(uint32(i)))
		buf := make([]byte, len(p))
		copy(buf, p)
		enc.Encrypt(buf)
		mac := make([]byte, MACSize)
		enc.Finish(mac)
		frames[i] = buf
		macs[i] = mac
	}

	// deliver frame 1 where frame 0 was expected
	dec.Nonce(nonceBytes(0))
	buf := make([]byte, len(frames[1]))
	copy(buf, frames[1])
	dec.Decrypt(buf)
	if dec.CheckMAC(macs[1]) {
		t.Error("out-of-order frame verified")
	}
}

func TestShannonKeySeparation(t *testing.T) {
	a := NewShannon(testKey())

	otherKey := testKey()
	otherKey[0] ^= 0xFF
	b := NewShannon(otherKey)

	a.Nonce(nonceBytes(0))
	b.Nonce(nonceBytes(0))

	payload := []byte("same plaintext")
	bufA := make([]byte, len(payload))
	bufB := make([]byte, len(payload))
	copy(bufA, payload)
	copy(bufB, payload)

	a.Encrypt(bufA)
	b.Encrypt(bufB)

	if bytes.Equal(bufA, bufB) {
		t.Error("different keys produced identical ciphertext")
	}
}

func TestShannonIncrementalEncrypt(t *testing.T) {
	payload := []byte("incremental encryption across odd split points")

	whole := NewShannon(testKey())
	whole.Nonce(nonceBytes(7))
	wholeBuf := make([]byte, len(payload))
	copy(wholeBuf, payload)
	whole.Encrypt(wholeBuf)
	wholeMAC := make([]byte, MACSize)
	whole.Finish(wholeMAC)

	split := NewShannon(testKey())
	split.Nonce(nonceBytes(7))
	splitBuf := make([]byte, len(payload))
	copy(splitBuf, payload)
	split.Encrypt(splitBuf[:5])
	split.Encrypt(splitBuf[5:13])
	split.Encrypt(splitBuf[13:])
	splitMAC := make([]byte, MACSize)
	split.Finish(splitMAC)

	if !bytes.Equal(wholeBuf, splitBuf) {
		t.Error("split encryption diverged from whole-buffer encryption")
	}
	if !bytes.Equal(wholeMAC, splitMAC) {
		t.Error("split MAC diverged from whole-buffer MAC")
	}
}
