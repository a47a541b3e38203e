package session

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/CadenzaCast/cadenza-client/pkg/protocol"
)

func TestClientHelloRoundtrip(t *testing.T) {
	hello := &clientHello{Version: protocol.Version, Features: 0x0003}
	rand.Read(hello.Public[:])
	rand.Read(hello.Nonce[:])

	decoded, err := decodeClientHello(hello.encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *decoded != *hello {
		t.Errorf("decoded = %+v, want %+v", decoded, hello)
	}
}

func TestDecodeClientHelloBadMagic(t *testing.T) {
	buf := (&clientHello{Version: protocol.Version}).encode()
	binary.BigEndian.PutUint32(buf[0:4], 0xdeadbeef)

	if _, err := decodeClientHello(buf); !errors.Is(err, ErrHandshakeFailed) {
		t.Fatalf("err = %v, want ErrHandshakeFailed", err)
	}
}

func TestDecodeClientHelloBadNonceLength(t *testing.T) {
	buf := (&clientHello{Version: protocol.Version}).encode()
	binary.BigEndian.PutUint16(buf[40:42], 8)

	if _, err := decodeClientHello(buf); !errors.Is(err, ErrHandshakeFailed) {
		t.Fatalf("err = %v, want ErrHandshakeFailed", err)
	}
}

func TestDecodeClientHelloTruncated(t *testing.T) {
	full := (&clientHello{Version: protocol.Version}).encode()
	for _, cut := range []int{0, 4, 40, len(full) - 1} {
		if _, err := decodeClientHello(full[:cut]); err == nil {
			t.Errorf("decode of %d/%d bytes succeeded", cut, len(full))
		}
	}
}
