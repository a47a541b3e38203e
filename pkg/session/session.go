package session

import (
	"crypto/ed25519"
	"log"
	"net"
	"sync"
	"time"

	"github.com/CadenzaCast/cadenza-client/pkg/crypto"
	"github.com/CadenzaCast/cadenza-client/pkg/protocol"
)

// Config carries the connection parameters for a session.
type Config struct {
	// DeviceName is the human-readable device name.
	DeviceName string

	// DeviceID is the stable device identifier (crypto.DeviceID of the
	// name if empty).
	DeviceID string

	// ServerKey is the pinned service signing key.
	ServerKey ed25519.PublicKey

	// Features advertises optional protocol features in the hello.
	Features uint16

	// KeepaliveInterval is how long the send side may stay idle before a
	// keep-alive frame is emitted. Default 30s.
	KeepaliveInterval time.Duration

	// ReadIdleTimeout marks the connection dead when nothing at all has
	// arrived for this long. Default 90s.
	ReadIdleTimeout time.Duration

	// MaxFramePayload caps accepted frame payloads. Default (and upper
	// bound) protocol.MaxFramePayload.
	MaxFramePayload int

	// MaxOpenChannels caps concurrently open data channels; further
	// fetches queue. Default 4.
	MaxOpenChannels int

	// PendingTTL expires abandoned Mercury entries. Default 5m.
	PendingTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.DeviceID == "" {
		c.DeviceID = crypto.DeviceID(c.DeviceName)
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 30 * time.Second
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = 90 * time.Second
	}
	if c.MaxFramePayload <= 0 || c.MaxFramePayload > protocol.MaxFramePayload {
		c.MaxFramePayload = protocol.MaxFramePayload
	}
	if c.MaxOpenChannels <= 0 {
		c.MaxOpenChannels = 4
	}
	if c.PendingTTL <= 0 {
		c.PendingTTL = 5 * time.Minute
	}
	return c
}

// Session is one authenticated, encrypted connection to the service. It
// owns the physical connection and the receive loop; consumers hold the
// Session handle and submit Mercury requests, subscriptions, channel
// fetches and audio key requests through it. A Session never reconnects:
// when it dies, every pending exchange fails with ErrConnectionLost and
// the owner decides whether to build a new one.
type Session struct {
	cfg  Config
	conn *cipherConn

	mercury  *Mercury
	channels *ChannelManager
	keys     *AudioKeyManager

	mu          sync.Mutex
	alive       bool
	err         error
	username    string
	token       []byte
	countryCode string

	lastRead time.Time
	lastSent time.Time

	done chan struct{}
	once sync.Once
}

// OpenSession performs the handshake and login on an established
// connection and starts the session loops. The Session owns conn from
// this point on, including on error.
func OpenSession(conn net.Conn, creds Credentials, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()

	keys, err := performHandshake(conn, &cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}

	cc := newCipherConn(conn, keys.SendKey[:], keys.RecvKey[:], cfg.MaxFramePayload)

	welcome, err := authenticate(cc, creds, &cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}

	s := &Session{
		cfg:      cfg,
		conn:     cc,
		alive:    true,
		username: welcome.Username,
		token:    welcome.ReusableToken,
		lastRead: time.Now(),
		lastSent: time.Now(),
		done:     make(chan struct{}),
	}
	s.mercury = newMercury(s)
	s.channels = newChannelManager(s)
	s.keys = newAudioKeyManager(s)

	go s.receiveLoop()
	go s.keepaliveLoop()

	log.Printf("Session established for %q on device %s", s.username, cfg.DeviceID)
	return s, nil
}

// Connect dials the service through the resolver and opens a session on
// the first reachable access point.
func Connect(aps *APList, creds Credentials, cfg Config) (*Session, error) {
	conn, addr, err := aps.Dial(10 * time.Second)
	if err != nil {
		return nil, err
	}

	s, err := OpenSession(conn, creds, cfg)
	if err != nil {
		return nil, err
	}

	log.Printf("Connected to access point %s", addr)
	return s, nil
}

// Mercury returns the session's request multiplexer.
func (s *Session) Mercury() *Mercury {
	return s.mercury
}

// Channels returns the session's chunked data fetcher.
func (s *Session) Channels() *ChannelManager {
	return s.channels
}

// AudioKeys returns the session's audio key client.
func (s *Session) AudioKeys() *AudioKeyManager {
	return s.keys
}

// Username returns the canonical username confirmed at login.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// ReusableToken returns the credential returned at login, usable for
// future token logins. Nil if the service issued none.
func (s *Session) ReusableToken() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// CountryCode returns the service-reported country, or "" before the
// service announces it.
func (s *Session) CountryCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countryCode
}

// IsAlive reports whether the session can still carry traffic.
func (s *Session) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive
}

// Done is closed when the session dies, whatever the cause.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the session, or nil while alive.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Shutdown tears the session down cleanly. Pending exchanges fail with
// ErrSessionClosed.
func (s *Session) Shutdown() {
	s.fail(ErrSessionClosed)
}

// sendFrame submits one outbound frame, refusing if the session is dead.
// A write error kills the session.
func (s *Session) sendFrame(cmd protocol.Command, payload []byte) error {
	s.mu.Lock()
	if !s.alive {
		err := s.err
		s.mu.Unlock()
		if err == ErrSessionClosed {
			return ErrSessionClosed
		}
		return ErrConnectionLost
	}
	s.lastSent = time.Now()
	s.mu.Unlock()

	if err := s.conn.WriteFrame(cmd, payload); err != nil {
		s.fail(ErrConnectionLost)
		return ErrConnectionLost
	}
	return nil
}

// receiveLoop owns the inbound side for the life of the connection. Each
// decoded frame is routed by the dispatcher; delivery to consumers is
// always a queued hand-off so a slow consumer cannot stall this loop.
func (s *Session) receiveLoop() {
	for {
		s.conn.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadIdleTimeout))

		frame, err := s.conn.ReadFrame()
		if err != nil {
			s.mu.Lock()
			alive := s.alive
			s.mu.Unlock()
			if alive {
				log.Printf("Session receive failed: %v", err)
				s.fail(ErrConnectionLost)
			}
			return
		}

		s.mu.Lock()
		s.lastRead = time.Now()
		s.mu.Unlock()

		s.route(frame)
	}
}

// keepaliveLoop emits a keep-alive frame whenever the send side has been
// idle for the configured interval.
func (s *Session) keepaliveLoop() {
	ticker := time.NewTicker(s.cfg.KeepaliveInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		s.mu.Lock()
		idle := time.Since(s.lastSent)
		s.mu.Unlock()

		if idle >= s.cfg.KeepaliveInterval {
			if err := s.sendFrame(protocol.CmdPing, nil); err != nil {
				return
			}
		}
	}
}

// fail ends the session exactly once and cascades the error to every
// pending exchange.
func (s *Session) fail(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.alive = false
		s.err = err
		s.mu.Unlock()

		s.conn.Close()
		close(s.done)

		s.mercury.failAll(err)
		s.channels.failAll(err)
		s.keys.failAll(err)

		if err != ErrSessionClosed {
			log.Printf("Session ended: %v", err)
		}
	})
}
