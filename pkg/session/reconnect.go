package session

import (
	"context"
	"errors"
	"log"
	"time"
)

// ===== RECONNECTION =====

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// Reconnector keeps one logical session alive across connection loss. It
// rebuilds the session with exponential backoff whenever the current one
// dies, and stops on clean shutdown, credential rejection, or ctx end.
// OnSession is called with each freshly established session.
type Reconnector struct {
	APs       *APList
	Creds     Credentials
	Config    Config
	OnSession func(*Session)
}

// Run connects and then supervises the session until ctx ends. The
// returned error is the reason supervision stopped.
func (r *Reconnector) Run(ctx context.Context) error {
	delay := reconnectBaseDelay

	for {
		s, err := Connect(r.APs, r.Creds, r.Config)
		if err != nil {
			if errors.Is(err, ErrAuthRejected) {
				return err
			}
			log.Printf("Connect failed, retrying in %v: %v", delay, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			if delay *= 2; delay > reconnectMaxDelay {
				delay = reconnectMaxDelay
			}
			continue
		}

		delay = reconnectBaseDelay
		if r.OnSession != nil {
			r.OnSession(s)
		}

		select {
		case <-ctx.Done():
			s.Shutdown()
			return ctx.Err()
		case <-s.Done():
		}

		if err := s.Err(); errors.Is(err, ErrSessionClosed) {
			return nil
		}
		log.Printf("Session lost, reconnecting")
	}
}
