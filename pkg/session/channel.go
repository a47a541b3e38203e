package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/CadenzaCast/cadenza-client/pkg/protocol"
)

// ===== DATA CHANNELS =====
// Channels fetch byte ranges of stored resources. The client opens a
// channel by sending a chunk request under a fresh channel id; the
// service streams data frames tagged with that id and terminates the
// stream with an empty data frame. Channel ids are not reused while a
// channel is open.

// openChannel is one in-flight range fetch.
type openChannel struct {
	buf    bytes.Buffer
	result chan error
	done   bool
}

// ChannelManager tracks open data channels and reassembles their
// streams. Concurrency is capped; callers beyond the cap queue on the
// semaphore until a slot frees.
type ChannelManager struct {
	session *Session
	slots   chan struct{}

	mu      sync.Mutex
	nextID  uint16
	open    map[uint16]*openChannel
	dead    bool
	deadErr error
}

func newChannelManager(s *Session) *ChannelManager {
	return &ChannelManager{
		session: s,
		slots:   make(chan struct{}, s.cfg.MaxOpenChannels),
		open:    make(map[uint16]*openChannel),
	}
}

// Fetch retrieves length bytes of the resource starting at offset. It
// blocks until the stream terminates, ctx ends, or the session dies.
func (cm *ChannelManager) Fetch(ctx context.Context, resource protocol.ResourceID, offset, length uint32) ([]byte, error) {
	select {
	case cm.slots <- struct{}{}:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, fmt.Errorf("waiting for channel slot: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: waiting for channel slot", ErrTimeout)
	case <-cm.session.done:
		return nil, cm.deadError()
	}
	defer func() { <-cm.slots }()

	id, ch, err := cm.allocate()
	if err != nil {
		return nil, err
	}
	defer cm.release(id)

	req := &protocol.ChunkRequest{
		ChannelID:  id,
		ResourceID: resource,
		Offset:     offset,
		Length:     length,
	}
	if err := cm.session.sendFrame(protocol.CmdStreamChunk, req.Encode()); err != nil {
		return nil, err
	}

	select {
	case err, ok := <-ch.result:
		if !ok {
			return nil, cm.deadError()
		}
		if err != nil {
			return nil, err
		}
		return ch.buf.Bytes(), nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, fmt.Errorf("channel %d: %w", id, ctx.Err())
		}
		return nil, fmt.Errorf("%w: channel %d", ErrTimeout, id)
	case <-cm.session.done:
		return nil, cm.deadError()
	}
}

// allocate reserves a fresh channel id. Ids advance monotonically and
// skip any id still open, so a late frame for a finished fetch can never
// land on a new one.
func (cm *ChannelManager) allocate() (uint16, *openChannel, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.dead {
		return 0, nil, cm.deadErr
	}

	for {
		id := cm.nextID
		cm.nextID++
		if _, taken := cm.open[id]; taken {
			continue
		}
		ch := &openChannel{result: make(chan error, 1)}
		cm.open[id] = ch
		return id, ch, nil
	}
}

func (cm *ChannelManager) release(id uint16) {
	cm.mu.Lock()
	delete(cm.open, id)
	cm.mu.Unlock()
}

// handleData consumes one inbound chunk data frame. An empty data frame
// terminates the stream and completes the fetch.
func (cm *ChannelManager) handleData(payload []byte) {
	id, data, err := protocol.ParseChunkData(payload)
	if err != nil {
		log.Printf("Dropping malformed chunk data: %v", err)
		return
	}

	cm.mu.Lock()
	ch, ok := cm.open[id]
	if !ok || ch.done {
		cm.mu.Unlock()
		log.Printf("Dropping chunk data for closed channel %d", id)
		return
	}

	if len(data) == 0 {
		ch.done = true
		cm.mu.Unlock()
		ch.result <- nil
		return
	}

	ch.buf.Write(data)
	cm.mu.Unlock()
}

// handleError consumes one inbound channel error frame.
func (cm *ChannelManager) handleError(payload []byte) {
	id, code, err := protocol.ParseChannelError(payload)
	if err != nil {
		log.Printf("Dropping malformed channel error: %v", err)
		return
	}

	cm.mu.Lock()
	ch, ok := cm.open[id]
	if !ok || ch.done {
		cm.mu.Unlock()
		log.Printf("Dropping error for closed channel %d", id)
		return
	}
	ch.done = true
	cm.mu.Unlock()

	ch.result <- &ChannelError{ChannelID: id, Code: code}
}

// failAll ends every open channel with err.
func (cm *ChannelManager) failAll(err error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.dead {
		return
	}
	cm.dead = true
	cm.deadErr = err

	for id, ch := range cm.open {
		delete(cm.open, id)
		if !ch.done {
			ch.done = true
			close(ch.result)
		}
	}
}

func (cm *ChannelManager) deadError() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.deadErr != nil {
		return cm.deadErr
	}
	return ErrConnectionLost
}
