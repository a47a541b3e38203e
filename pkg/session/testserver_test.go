package session

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"testing"
	"time"

	"github.com/CadenzaCast/cadenza-client/pkg/crypto"
	"github.com/CadenzaCast/cadenza-client/pkg/protocol"
)

// testServer plays the service end of a session over an in-memory pipe.
// It runs the server side of the handshake and login and then exchanges
// encrypted frames like the real service would.
type testServer struct {
	t    *testing.T
	conn net.Conn
	sign ed25519.PrivateKey
	cc   *cipherConn
}

func newTestServer(t *testing.T) (*testServer, net.Conn, ed25519.PublicKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate signing key: %v", err)
	}

	serverConn, clientConn := net.Pipe()
	srv := &testServer{t: t, conn: serverConn, sign: priv}
	return srv, clientConn, pub
}

// handshake runs the server side of the key exchange. Send and receive
// keys are mirrored relative to the client.
func (ts *testServer) handshake() error {
	helloBytes, err := readPlainFrame(ts.conn)
	if err != nil {
		return err
	}
	hello, err := decodeClientHello(helloBytes)
	if err != nil {
		return err
	}

	keyPair, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}

	response := &serverResponse{
		Public:    keyPair.Public,
		Signature: ed25519.Sign(ts.sign, keyPair.Public[:]),
	}
	responseBytes := response.encode()
	if err := writePlainFrame(ts.conn, responseBytes); err != nil {
		return err
	}

	secret, err := keyPair.SharedSecret(hello.Public)
	if err != nil {
		return err
	}

	transcript := append(append([]byte{}, helloBytes...), responseBytes...)
	keys, err := crypto.DeriveSessionKeys(secret, transcript)
	if err != nil {
		return err
	}

	proof, err := readPlainFrame(ts.conn)
	if err != nil {
		return err
	}
	if !bytes.Equal(proof, challengeMAC(keys, transcript)) {
		ts.t.Error("client challenge proof mismatch")
	}

	ts.cc = newCipherConn(ts.conn, keys.RecvKey[:], keys.SendKey[:], 0)
	return nil
}

// acceptLogin consumes the login frame and replies with a welcome.
func (ts *testServer) acceptLogin(username string, token []byte) error {
	frame, err := ts.cc.ReadFrame()
	if err != nil {
		return err
	}
	if frame.Cmd != protocol.CmdLogin {
		ts.t.Errorf("expected login frame, got %v", frame.Cmd)
	}
	if _, err := protocol.DecodeLoginRequest(frame.Payload); err != nil {
		return err
	}

	welcome := &protocol.Welcome{Username: username, ReusableToken: token}
	return ts.cc.WriteFrame(protocol.CmdWelcome, welcome.Encode())
}

// rejectLogin consumes the login frame and replies with a failure code.
func (ts *testServer) rejectLogin(code uint16) error {
	if _, err := ts.cc.ReadFrame(); err != nil {
		return err
	}
	return ts.cc.WriteFrame(protocol.CmdAuthFailure, protocol.EncodeAuthFailure(code))
}

func (ts *testServer) read() *protocol.Frame {
	ts.t.Helper()
	frame, err := ts.cc.ReadFrame()
	if err != nil {
		ts.t.Fatalf("server read: %v", err)
	}
	return frame
}

func (ts *testServer) write(cmd protocol.Command, payload []byte) {
	ts.t.Helper()
	if err := ts.cc.WriteFrame(cmd, payload); err != nil {
		ts.t.Fatalf("server write: %v", err)
	}
}

// readEnvelope reads one frame and decodes it as a Mercury envelope.
func (ts *testServer) readEnvelope() (protocol.Command, *protocol.Envelope) {
	ts.t.Helper()
	frame := ts.read()
	env, err := protocol.DecodeEnvelope(frame.Payload)
	if err != nil {
		ts.t.Fatalf("server decode envelope: %v", err)
	}
	return frame.Cmd, env
}

// writeResponse sends a complete Mercury response for seq.
func (ts *testServer) writeResponse(cmd protocol.Command, seq uint64, status uint16, uri string, payload ...[]byte) {
	ts.t.Helper()
	header := &protocol.MercuryHeader{Method: protocol.MethodGet, Status: status, URI: uri}
	env := &protocol.Envelope{
		Seq:   seq,
		Flags: protocol.FlagFinal,
		Parts: append([][]byte{header.Encode()}, payload...),
	}
	ts.write(cmd, env.Encode())
}

func (ts *testServer) close() {
	ts.conn.Close()
}

// openTestSession establishes a full session against a test server with
// login accepted for the given account.
func openTestSession(t *testing.T) (*Session, *testServer) {
	t.Helper()

	srv, clientConn, serverPub := newTestServer(t)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.handshake(); err != nil {
			serverErr <- err
			return
		}
		serverErr <- srv.acceptLogin("listener", []byte("reusable-token"))
	}()

	cfg := Config{
		DeviceName: "test-device",
		ServerKey:  serverPub,
	}
	s, err := OpenSession(clientConn, WithPassword("listener", "hunter2"), cfg)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	if err := <-serverErr; err != nil {
		t.Fatalf("test server: %v", err)
	}

	t.Cleanup(func() {
		s.Shutdown()
		srv.close()
	})
	return s, srv
}

// waitDone waits for the session to end or fails the test.
func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end")
	}
}
