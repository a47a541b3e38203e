package crypto

import "math/bits"

// ===== SHANNON STREAM CIPHER =====
// Shannon is the stream cipher used on the session wire, one instance per
// direction. Alongside the keystream it maintains a running MAC register
// that absorbs every plaintext word processed since the last nonce, so the
// 4-byte tag emitted by Finish authenticates the whole frame and its
// position in the stream. Re-keying with a nonce (the frame counter)
// resets the MAC but not the key, which makes replayed or reordered
// frames fail verification on the peer.

const (
	shannonN         = 16
	shannonFold      = shannonN
	shannonInitKonst = 0x6996c53a
	shannonKeyP      = 13

	// MACSize is the length of the authentication tag appended to each frame.
	MACSize = 4
)

// Shannon holds the cipher state for one direction of a session.
type Shannon struct {
	r     [shannonN]uint32 // working register
	crc   [shannonN]uint32 // accumulated MAC register
	initR [shannonN]uint32 // register snapshot after key loading
	konst uint32           // key-dependent diffusion constant
	sbuf  uint32           // current keystream word
	mbuf  uint32           // partial plaintext word being accumulated
	nbuf  int              // bits remaining in the partial word
}

// NewShannon creates a cipher instance keyed with the given key.
func NewShannon(key []byte) *Shannon {
	s := &Shannon{}
	s.initState()
	s.loadKey(key)
	s.konst = s.r[0] // key-dependent konst
	s.initR = s.r
	s.initMAC()
	return s
}

// sbox1 is the first nonlinear substitution
func sbox1(w uint32) uint32 {
	w ^= bits.RotateLeft32(w, 5) | bits.RotateLeft32(w, 7)
	w ^= bits.RotateLeft32(w, 19) | bits.RotateLeft32(w, 22)
	return w
}

// sbox2 is the second nonlinear substitution
func sbox2(w uint32) uint32 {
	w ^= bits.RotateLeft32(w, 7) | bits.RotateLeft32(w, 22)
	w ^= bits.RotateLeft32(w, 5) | bits.RotateLeft32(w, 19)
	return w
}

// cycle advances the register one step and produces the next keystream word
func (s *Shannon) cycle() {
	t := s.r[12] ^ s.r[13] ^ s.konst
	t = sbox1(t) ^ bits.RotateLeft32(s.r[0], 1)

	for i := 1; i < shannonN; i++ {
		s.r[i-1] = s.r[i]
	}
	s.r[shannonN-1] = t

	t = sbox2(s.r[2] ^ s.r[15])
	s.r[0] ^= t
	s.sbuf = t ^ s.r[8] ^ s.r[12]
}

// crcUpdate accumulates one word into the MAC register (CRC-style LFSR)
func (s *Shannon) crcUpdate(w uint32) {
	t := s.crc[0] ^ s.crc[2] ^ s.crc[15] ^ w

	for i := 1; i < shannonN; i++ {
		s.crc[i-1] = s.crc[i]
	}
	s.crc[shannonN-1] = t
}

// macUpdate absorbs a plaintext word into both MAC and stream registers.
// Feeding the word back into the stream register is what makes the
// keystream itself depend on prior traffic.
func (s *Shannon) macUpdate(w uint32) {
	s.crcUpdate(w)
	s.r[shannonKeyP] ^= w
}

// addKey folds a key word into the register
func (s *Shannon) addKey(k uint32) {
	s.r[shannonKeyP] ^= k
}

// diffuse spreads key or MAC material through the whole register
func (s *Shannon) diffuse() {
	for i := 0; i < shannonFold; i++ {
		s.cycle()
	}
}

// initState sets the register to the Fibonacci start values
func (s *Shannon) initState() {
	s.r[0] = 1
	s.r[1] = 1
	for i := 2; i < shannonN; i++ {
		s.r[i] = s.r[i-1] + s.r[i-2]
	}
	s.konst = shannonInitKonst
	s.nbuf = 0
}

// loadKey folds key material into the register, one word at a time,
// followed by the key length. Irreversible: a register snapshot is
// XORed back after diffusion.
func (s *Shannon) loadKey(key []byte) {
	i := 0
	for ; i+4 <= len(key); i += 4 {
		s.addKey(uint32(key[i]) | uint32(key[i+1])<<8 | uint32(key[i+2])<<16 | uint32(key[i+3])<<24)
		s.cycle()
	}

	// zero-pad any trailing bytes to a full word
	if i < len(key) {
		var k uint32
		for shift := 0; i < len(key); i++ {
			k |= uint32(key[i]) << shift
			shift += 8
		}
		s.addKey(k)
		s.cycle()
	}

	s.addKey(uint32(len(key)))
	s.cycle()

	snapshot := s.r
	s.diffuse()
	for j := 0; j < shannonN; j++ {
		s.r[j] ^= snapshot[j]
	}
}

// initMAC primes the MAC register from the current cipher register
func (s *Shannon) initMAC() {
	s.crc = s.r
	s.nbuf = 0
}

// Nonce re-initializes the cipher for a new frame. The key survives; the
// register is restored to its post-key state and the nonce folded in.
func (s *Shannon) Nonce(nonce []byte) {
	s.r = s.initR
	s.konst = shannonInitKonst
	s.loadKey(nonce)
	s.konst = s.r[0]
	s.initMAC()
}

// Encrypt encrypts buf in place, absorbing the plaintext into the MAC.
func (s *Shannon) Encrypt(buf []byte) {
	i := 0

	// finish any partial word from a previous call
	if s.nbuf != 0 {
		for s.nbuf != 0 && i < len(buf) {
			s.mbuf ^= uint32(buf[i]) << (32 - s.nbuf)
			buf[i] ^= byte(s.sbuf >> (32 - s.nbuf))
			i++
			s.nbuf -= 8
		}
		if s.nbuf != 0 {
			return
		}
		s.macUpdate(s.mbuf)
	}

	for ; i+4 <= len(buf); i += 4 {
		s.cycle()
		t := uint32(buf[i]) | uint32(buf[i+1])<<8 | uint32(buf[i+2])<<16 | uint32(buf[i+3])<<24
		s.macUpdate(t)
		t ^= s.sbuf
		buf[i] = byte(t)
		buf[i+1] = byte(t >> 8)
		buf[i+2] = byte(t >> 16)
		buf[i+3] = byte(t >> 24)
	}

	if i < len(buf) {
		s.cycle()
		s.mbuf = 0
		s.nbuf = 32
		for s.nbuf != 0 && i < len(buf) {
			s.mbuf ^= uint32(buf[i]) << (32 - s.nbuf)
			buf[i] ^= byte(s.sbuf >> (32 - s.nbuf))
			i++
			s.nbuf -= 8
		}
	}
}

// Decrypt decrypts buf in place, absorbing the recovered plaintext into
// the MAC so both ends converge on the same tag.
func (s *Shannon) Decrypt(buf []byte) {
	i := 0

	if s.nbuf != 0 {
		for s.nbuf != 0 && i < len(buf) {
			buf[i] ^= byte(s.sbuf >> (32 - s.nbuf))
			s.mbuf ^= uint32(buf[i]) << (32 - s.nbuf)
			i++
			s.nbuf -= 8
		}
		if s.nbuf != 0 {
			return
		}
		s.macUpdate(s.mbuf)
	}

	for ; i+4 <= len(buf); i += 4 {
		s.cycle()
		t := uint32(buf[i]) | uint32(buf[i+1])<<8 | uint32(buf[i+2])<<16 | uint32(buf[i+3])<<24
		t ^= s.sbuf
		s.macUpdate(t)
		buf[i] = byte(t)
		buf[i+1] = byte(t >> 8)
		buf[i+2] = byte(t >> 16)
		buf[i+3] = byte(t >> 24)
	}

	if i < len(buf) {
		s.cycle()
		s.mbuf = 0
		s.nbuf = 32
		for s.nbuf != 0 && i < len(buf) {
			buf[i] ^= byte(s.sbuf >> (32 - s.nbuf))
			s.mbuf ^= uint32(buf[i]) << (32 - s.nbuf)
			i++
			s.nbuf -= 8
		}
	}
}

// Finish closes the current frame and writes the MAC tag into mac.
// len(mac) must be MACSize.
func (s *Shannon) Finish(mac []byte) {
	// fold in any pending partial word
	if s.nbuf != 0 {
		s.macUpdate(s.mbuf)
	}

	// perturb the register to mark end of input
	s.cycle()
	s.addKey(shannonInitKonst ^ uint32(s.nbuf<<3))
	s.nbuf = 0

	// fold the MAC register into the stream register and diffuse
	for i := 0; i < shannonN; i++ {
		s.r[i] ^= s.crc[i]
	}
	s.diffuse()

	for i := 0; i < len(mac); i += 4 {
		s.cycle()
		for j := 0; j < 4 && i+j < len(mac); j++ {
			mac[i+j] = byte(s.sbuf >> (8 * j))
		}
	}
}

// CheckMAC consumes the MAC state and verifies a received tag against it.
func (s *Shannon) CheckMAC(expected []byte) bool {
	actual := make([]byte, len(expected))
	s.Finish(actual)

	diff := byte(0)
	for i := range actual {
		diff |= actual[i] ^ expected[i]
	}
	return diff == 0
}
