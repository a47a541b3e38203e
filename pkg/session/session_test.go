package session

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/CadenzaCast/cadenza-client/pkg/protocol"
)

func TestOpenSessionLogin(t *testing.T) {
	s, _ := openTestSession(t)

	if got := s.Username(); got != "listener" {
		t.Errorf("username = %q, want listener", got)
	}
	if got := s.ReusableToken(); !bytes.Equal(got, []byte("reusable-token")) {
		t.Errorf("reusable token = %q", got)
	}
	if !s.IsAlive() {
		t.Error("session not alive after login")
	}
}

func TestOpenSessionAuthRejected(t *testing.T) {
	srv, clientConn, serverPub := newTestServer(t)
	defer srv.close()

	go func() {
		if err := srv.handshake(); err != nil {
			return
		}
		srv.rejectLogin(protocol.AuthErrBadCredentials)
	}()

	cfg := Config{DeviceName: "test-device", ServerKey: serverPub}
	_, err := OpenSession(clientConn, WithPassword("listener", "wrong"), cfg)
	if !errors.Is(err, ErrAuthRejected) {
		t.Fatalf("err = %v, want ErrAuthRejected", err)
	}
}

func TestHandshakeBadSignature(t *testing.T) {
	srv, clientConn, _ := newTestServer(t)
	defer srv.close()

	go func() {
		srv.handshake()
	}()

	// pin a key the server does not sign with
	otherPub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	cfg := Config{DeviceName: "test-device", ServerKey: otherPub}
	_, err = OpenSession(clientConn, WithPassword("listener", "hunter2"), cfg)
	if !errors.Is(err, ErrHandshakeFailed) {
		t.Fatalf("err = %v, want ErrHandshakeFailed", err)
	}
}

func TestCountryCodeAnnouncement(t *testing.T) {
	s, srv := openTestSession(t)

	srv.write(protocol.CmdCountryCode, []byte("SE"))

	deadline := time.Now().Add(2 * time.Second)
	for s.CountryCode() == "" {
		if time.Now().After(deadline) {
			t.Fatal("country code never arrived")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := s.CountryCode(); got != "SE" {
		t.Errorf("country code = %q, want SE", got)
	}
}

func TestServerPingGetsPong(t *testing.T) {
	_, srv := openTestSession(t)

	srv.write(protocol.CmdPing, nil)
	frame := srv.read()
	if frame.Cmd != protocol.CmdPong {
		t.Errorf("reply = %v, want %v", frame.Cmd, protocol.CmdPong)
	}
}

func TestUnknownCommandIgnored(t *testing.T) {
	s, srv := openTestSession(t)

	srv.write(protocol.Command(0x77), []byte{0xde, 0xad})

	// the session must still carry traffic afterwards
	srv.write(protocol.CmdPing, nil)
	frame := srv.read()
	if frame.Cmd != protocol.CmdPong {
		t.Errorf("reply = %v, want %v", frame.Cmd, protocol.CmdPong)
	}
	if !s.IsAlive() {
		t.Error("unknown command killed the session")
	}
}

func TestConnectionLossFailsEverything(t *testing.T) {
	s, srv := openTestSession(t)

	type outcome struct{ err error }
	results := make(chan outcome, 3)

	go func() {
		_, err := s.Mercury().Get(context.Background(), "meta/track/1")
		results <- outcome{err}
	}()
	go func() {
		_, err := s.Mercury().Get(context.Background(), "meta/track/2")
		results <- outcome{err}
	}()
	go func() {
		_, err := s.Channels().Fetch(context.Background(), protocol.ResourceID{1}, 0, 1024)
		results <- outcome{err}
	}()

	// absorb the three requests, then drop the connection
	srv.read()
	srv.read()
	srv.read()
	srv.close()

	for i := 0; i < 3; i++ {
		select {
		case res := <-results:
			if !errors.Is(res.err, ErrConnectionLost) {
				t.Errorf("pending call err = %v, want ErrConnectionLost", res.err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("pending call never failed")
		}
	}

	waitDone(t, s)
	if s.IsAlive() {
		t.Error("session still alive after connection loss")
	}
	if !errors.Is(s.Err(), ErrConnectionLost) {
		t.Errorf("session err = %v, want ErrConnectionLost", s.Err())
	}
}

func TestShutdownRefusesNewWork(t *testing.T) {
	s, _ := openTestSession(t)

	s.Shutdown()
	waitDone(t, s)

	_, err := s.Mercury().Get(context.Background(), "meta/track/1")
	if !errors.Is(err, ErrSessionClosed) {
		t.Errorf("err = %v, want ErrSessionClosed", err)
	}
}
