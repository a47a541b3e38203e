package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/CadenzaCast/cadenza-client/pkg/protocol"
)

// ===== AUDIO KEY EXCHANGE =====
// Decryption keys for stored audio are requested per resource/track pair
// and correlated by a client-chosen sequence number, separate from the
// Mercury sequence space.

type pendingKey struct {
	key chan *keyResult
}

type keyResult struct {
	key protocol.AudioKey
	err error
}

// AudioKeyManager requests and correlates audio decryption keys.
type AudioKeyManager struct {
	session *Session

	mu      sync.Mutex
	nextSeq uint32
	pending map[uint32]*pendingKey
	dead    bool
	deadErr error
}

func newAudioKeyManager(s *Session) *AudioKeyManager {
	return &AudioKeyManager{
		session: s,
		pending: make(map[uint32]*pendingKey),
	}
}

// Request fetches the decryption key for track within resource.
func (km *AudioKeyManager) Request(ctx context.Context, resource protocol.ResourceID, track protocol.TrackID) (protocol.AudioKey, error) {
	var zero protocol.AudioKey

	km.mu.Lock()
	if km.dead {
		err := km.deadErr
		km.mu.Unlock()
		return zero, err
	}
	seq := km.nextSeq
	km.nextSeq++
	p := &pendingKey{key: make(chan *keyResult, 1)}
	km.pending[seq] = p
	km.mu.Unlock()

	req := &protocol.KeyRequest{
		ResourceID: resource,
		TrackID:    track,
		Seq:        seq,
	}
	if err := km.session.sendFrame(protocol.CmdRequestKey, req.Encode()); err != nil {
		km.unregister(seq)
		return zero, err
	}

	select {
	case res, ok := <-p.key:
		if !ok {
			return zero, km.deadError()
		}
		if res.err != nil {
			return zero, res.err
		}
		return res.key, nil
	case <-ctx.Done():
		km.unregister(seq)
		if errors.Is(ctx.Err(), context.Canceled) {
			return zero, fmt.Errorf("audio key %d: %w", seq, ctx.Err())
		}
		return zero, fmt.Errorf("%w: audio key %d", ErrTimeout, seq)
	case <-km.session.done:
		km.unregister(seq)
		return zero, km.deadError()
	}
}

func (km *AudioKeyManager) unregister(seq uint32) {
	km.mu.Lock()
	delete(km.pending, seq)
	km.mu.Unlock()
}

// handleResponse consumes one inbound key response frame.
func (km *AudioKeyManager) handleResponse(payload []byte) {
	seq, key, err := protocol.ParseKeyResponse(payload)
	if err != nil {
		log.Printf("Dropping malformed key response: %v", err)
		return
	}
	km.deliver(seq, &keyResult{key: key})
}

// handleError consumes one inbound key error frame.
func (km *AudioKeyManager) handleError(payload []byte) {
	seq, code, err := protocol.ParseKeyError(payload)
	if err != nil {
		log.Printf("Dropping malformed key error: %v", err)
		return
	}
	km.deliver(seq, &keyResult{err: &AudioKeyError{Code: code}})
}

func (km *AudioKeyManager) deliver(seq uint32, res *keyResult) {
	km.mu.Lock()
	p, ok := km.pending[seq]
	if ok {
		delete(km.pending, seq)
	}
	km.mu.Unlock()

	if !ok {
		log.Printf("Dropping audio key reply %d with no waiter", seq)
		return
	}
	p.key <- res
}

// failAll ends every pending key request with err.
func (km *AudioKeyManager) failAll(err error) {
	km.mu.Lock()
	defer km.mu.Unlock()

	if km.dead {
		return
	}
	km.dead = true
	km.deadErr = err

	for seq, p := range km.pending {
		delete(km.pending, seq)
		close(p.key)
	}
}

func (km *AudioKeyManager) deadError() error {
	km.mu.Lock()
	defer km.mu.Unlock()
	if km.deadErr != nil {
		return km.deadErr
	}
	return ErrConnectionLost
}
