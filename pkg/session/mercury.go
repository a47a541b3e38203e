package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/CadenzaCast/cadenza-client/pkg/protocol"
)

// ===== MERCURY MULTIPLEXER =====
// Mercury carries hierarchical-URI request/response and pub/sub traffic
// over the session. Every outbound request gets a session-unique sequence
// number; the response envelope echoes it, which is the only correlation
// between the two. Subscriptions are keyed by URI prefix and receive
// pushed events the service emits under that prefix.

const (
	// subscriptionBuffer is how many undelivered events a subscription
	// may hold before further events are dropped.
	subscriptionBuffer = 16

	janitorInterval = 30 * time.Second
)

// Response is one complete Mercury reply or pushed event.
type Response struct {
	URI     string
	Method  protocol.Method
	Status  uint16
	Payload [][]byte
}

// OK reports whether the status is in the success range.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Subscription receives events pushed under one URI prefix. Events is
// closed when the subscription ends, whether by Unsubscribe or by the
// session dying.
type Subscription struct {
	URI    string
	Events chan *Response

	closed bool
}

// pendingRequest is one in-flight exchange awaiting its response.
type pendingRequest struct {
	uri     string
	result  chan *Response
	created time.Time
}

// assembly accumulates envelope parts across a partial sequence until
// the final envelope arrives.
type assembly struct {
	cmd     protocol.Command
	parts   [][]byte
	created time.Time
}

// Mercury is the session's request/response and pub/sub multiplexer.
type Mercury struct {
	session *Session

	mu        sync.Mutex
	nextSeq   uint64
	pending   map[uint64]*pendingRequest
	partials  map[uint64]*assembly
	subs      map[string]*Subscription
	dead      bool
	deadErr   error
}

func newMercury(s *Session) *Mercury {
	m := &Mercury{
		session:  s,
		nextSeq:  1,
		pending:  make(map[uint64]*pendingRequest),
		partials: make(map[uint64]*assembly),
		subs:     make(map[string]*Subscription),
	}
	go m.janitor()
	return m
}

// Get performs a GET request and waits for the response.
func (m *Mercury) Get(ctx context.Context, uri string) (*Response, error) {
	return m.Request(ctx, protocol.MethodGet, uri, nil)
}

// Send performs a SEND request carrying payload parts and waits for the
// acknowledging response.
func (m *Mercury) Send(ctx context.Context, uri string, parts [][]byte) (*Response, error) {
	return m.Request(ctx, protocol.MethodSend, uri, parts)
}

// Request performs one Mercury exchange: it assigns a sequence number,
// sends the request under it and blocks until the matching response
// arrives, ctx ends, or the session dies.
func (m *Mercury) Request(ctx context.Context, method protocol.Method, uri string, parts [][]byte) (*Response, error) {
	seq, result, err := m.register(uri)
	if err != nil {
		return nil, err
	}

	if err := m.sendRequest(seq, method, uri, parts); err != nil {
		m.unregister(seq)
		return nil, err
	}

	select {
	case resp, ok := <-result:
		if !ok {
			m.mu.Lock()
			dead := m.dead
			m.mu.Unlock()
			if dead {
				return nil, m.deadError()
			}
			return nil, fmt.Errorf("%w: %s", ErrTimeout, uri)
		}
		return resp, nil
	case <-ctx.Done():
		m.unregister(seq)
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, fmt.Errorf("mercury %s: %w", uri, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %s", ErrTimeout, uri)
	case <-m.session.done:
		m.unregister(seq)
		return nil, m.deadError()
	}
}

// Subscribe registers for events pushed under the URI prefix. The
// subscription replaces any previous one for the same prefix; the old
// subscription's Events channel is closed.
func (m *Mercury) Subscribe(ctx context.Context, uri string) (*Subscription, error) {
	resp, err := m.Request(ctx, protocol.MethodSub, uri, nil)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, &MercuryError{URI: uri, Status: resp.Status}
	}

	sub := &Subscription{
		URI:    uri,
		Events: make(chan *Response, subscriptionBuffer),
	}

	m.mu.Lock()
	if old, ok := m.subs[uri]; ok && !old.closed {
		old.closed = true
		close(old.Events)
	}
	m.subs[uri] = sub
	m.mu.Unlock()

	return sub, nil
}

// Unsubscribe ends the subscription for the URI prefix. Unsubscribing a
// prefix that is not subscribed is a no-op.
func (m *Mercury) Unsubscribe(ctx context.Context, uri string) error {
	m.mu.Lock()
	sub, ok := m.subs[uri]
	if ok {
		delete(m.subs, uri)
		if !sub.closed {
			sub.closed = true
			close(sub.Events)
		}
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}

	_, err := m.Request(ctx, protocol.MethodUnsub, uri, nil)
	return err
}

// register reserves the next sequence number and its result slot.
func (m *Mercury) register(uri string) (uint64, chan *Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dead {
		return 0, nil, m.deadErr
	}

	seq := m.nextSeq
	m.nextSeq++

	result := make(chan *Response, 1)
	m.pending[seq] = &pendingRequest{uri: uri, result: result, created: time.Now()}
	return seq, result, nil
}

func (m *Mercury) unregister(seq uint64) {
	m.mu.Lock()
	delete(m.pending, seq)
	delete(m.partials, seq)
	m.mu.Unlock()
}

// sendRequest encodes the request into one or more envelopes. The header
// part always travels first; payloads larger than MaxMercuryPart are
// split into consecutive parts, and part lists that overflow one
// envelope continue in follow-up envelopes flagged partial until the
// last one, flagged final.
func (m *Mercury) sendRequest(seq uint64, method protocol.Method, uri string, parts [][]byte) error {
	header := &protocol.MercuryHeader{Method: method, URI: uri}

	all := make([][]byte, 0, 1+len(parts))
	all = append(all, header.Encode())
	for _, part := range parts {
		all = append(all, protocol.SplitPart(part, protocol.MaxMercuryPart)...)
	}

	cmd := method.Command()

	for start := 0; start < len(all); {
		end := start + 1
		size := len(all[start]) + 2
		for end < len(all) && size+len(all[end])+2 <= protocol.MaxMercuryPart {
			size += len(all[end]) + 2
			end++
		}

		env := &protocol.Envelope{
			Seq:   seq,
			Parts: all[start:end],
		}
		if end == len(all) {
			env.Flags = protocol.FlagFinal
		} else {
			env.Flags = protocol.FlagPartial
		}

		if err := m.session.sendFrame(cmd, env.Encode()); err != nil {
			return err
		}
		start = end
	}
	return nil
}

// handleFrame consumes one inbound Mercury frame. Partial envelopes are
// buffered under their sequence number until the final one completes the
// part list; the assembled message is then delivered as a response or a
// pushed event depending on the command.
func (m *Mercury) handleFrame(cmd protocol.Command, payload []byte) {
	env, err := protocol.DecodeEnvelope(payload)
	if err != nil {
		log.Printf("Dropping malformed mercury envelope: %v", err)
		return
	}

	m.mu.Lock()
	asm, ok := m.partials[env.Seq]
	if !ok {
		asm = &assembly{cmd: cmd, created: time.Now()}
		m.partials[env.Seq] = asm
	}
	asm.parts = append(asm.parts, env.Parts...)

	if !env.Final() {
		m.mu.Unlock()
		return
	}
	delete(m.partials, env.Seq)
	parts := asm.parts
	firstCmd := asm.cmd
	m.mu.Unlock()

	if len(parts) == 0 {
		log.Printf("Dropping mercury message %d with no parts", env.Seq)
		return
	}

	header, err := protocol.DecodeMercuryHeader(parts[0])
	if err != nil {
		log.Printf("Dropping mercury message %d: bad header: %v", env.Seq, err)
		return
	}

	resp := &Response{
		URI:     header.URI,
		Method:  header.Method,
		Status:  header.Status,
		Payload: parts[1:],
	}

	if firstCmd == protocol.CmdMercuryEvent {
		m.deliverEvent(resp)
		return
	}
	m.deliverResponse(env.Seq, resp)
}

// deliverResponse completes the pending exchange for seq. A response with
// no waiter is dropped: the requester timed out or the entry expired.
func (m *Mercury) deliverResponse(seq uint64, resp *Response) {
	m.mu.Lock()
	req, ok := m.pending[seq]
	if ok {
		delete(m.pending, seq)
	}
	m.mu.Unlock()

	if !ok {
		log.Printf("Dropping mercury response %d with no waiter (%s)", seq, resp.URI)
		return
	}
	req.result <- resp
}

// deliverEvent routes a pushed event to the subscription with the longest
// matching URI prefix. Prefixes match on path boundaries only.
func (m *Mercury) deliverEvent(resp *Response) {
	m.mu.Lock()
	var best *Subscription
	bestLen := -1
	for prefix, sub := range m.subs {
		if !prefixMatches(resp.URI, prefix) {
			continue
		}
		if len(prefix) > bestLen {
			best = sub
			bestLen = len(prefix)
		}
	}
	m.mu.Unlock()

	if best == nil {
		log.Printf("Dropping unsubscribed mercury event for %s", resp.URI)
		return
	}

	select {
	case best.Events <- resp:
	default:
		log.Printf("Subscription %s full, dropping event for %s", best.URI, resp.URI)
	}
}

// prefixMatches reports whether uri falls under prefix, where segments
// divide on '/': "a/b" matches "a/b" and "a/b/c" but not "a/bc".
func prefixMatches(uri, prefix string) bool {
	if !strings.HasPrefix(uri, prefix) {
		return false
	}
	return len(uri) == len(prefix) || uri[len(prefix)] == '/'
}

// janitor expires pending entries whose waiter gave up without the
// response ever arriving, and partial assemblies the peer never
// completed.
func (m *Mercury) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.session.done:
			return
		case <-ticker.C:
		}

		m.expireStale(time.Now().Add(-m.session.cfg.PendingTTL))
	}
}

// expireStale drops pending requests and partial assemblies created
// before cutoff. Orphan assemblies count too: an envelope stream that is
// never flagged final must not hold memory forever.
func (m *Mercury) expireStale(cutoff time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for seq, req := range m.pending {
		if req.created.Before(cutoff) {
			delete(m.pending, seq)
			delete(m.partials, seq)
			close(req.result)
			log.Printf("Expiring mercury request %d (%s)", seq, req.uri)
		}
	}
	for seq, asm := range m.partials {
		if asm.created.Before(cutoff) {
			delete(m.partials, seq)
			log.Printf("Expiring incomplete mercury assembly %d (%d parts)", seq, len(asm.parts))
		}
	}
}

// failAll ends every pending exchange and subscription with err.
func (m *Mercury) failAll(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dead {
		return
	}
	m.dead = true
	m.deadErr = err

	for seq, req := range m.pending {
		delete(m.pending, seq)
		close(req.result)
	}
	for uri, sub := range m.subs {
		delete(m.subs, uri)
		if !sub.closed {
			sub.closed = true
			close(sub.Events)
		}
	}
	m.partials = make(map[uint64]*assembly)
}

func (m *Mercury) deadError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deadErr != nil {
		return m.deadErr
	}
	return ErrConnectionLost
}
