// Package network implements the reliable datagram transport the battle
// protocol rides on: sequence numbers, acknowledgements, timed
// retransmission and duplicate suppression over a single UDP socket.
package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/pokeproto/pokeproto/internal/protocol"
	"github.com/pokeproto/pokeproto/internal/util"
)

var (
	ErrTableFull = errors.New("transport: envelope table full")
	ErrClosed    = errors.New("transport: closed")
	ErrTooLarge  = errors.New("transport: payload exceeds datagram size")
)

// Options tunes the transport. Zero fields fall back to DefaultOptions.
type Options struct {
	RetryTimeout time.Duration
	MaxRetries   int
	TickInterval time.Duration
	Capacity     int
	DedupeWindow int
	ReadTimeout  time.Duration
}

// DefaultOptions returns the stock timings: 500ms timeout, 3 retries,
// 50ms tick and up to 256 outstanding sends.
func DefaultOptions() Options {
	return Options{
		RetryTimeout: 500 * time.Millisecond,
		MaxRetries:   3,
		TickInterval: 50 * time.Millisecond,
		Capacity:     256,
		DedupeWindow: 512,
		ReadTimeout:  250 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.RetryTimeout <= 0 {
		o.RetryTimeout = d.RetryTimeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = d.MaxRetries
	}
	if o.TickInterval <= 0 {
		o.TickInterval = d.TickInterval
	}
	if o.Capacity <= 0 {
		o.Capacity = d.Capacity
	}
	if o.DedupeWindow <= 0 {
		o.DedupeWindow = d.DedupeWindow
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = d.ReadTimeout
	}
	return o
}

// PeerUnreachable is published once per peer when a reliable send to it
// exhausts its retries. Every other envelope to that peer is abandoned
// with it.
type PeerUnreachable struct {
	Peer      net.Addr
	Seq       uint32
	Retries   int
	Abandoned int
}

// Stats is a point-in-time view of transport counters.
type Stats struct {
	Outstanding   int    `json:"outstanding"`
	Sent          uint64 `json:"sent"`
	Retransmitted uint64 `json:"retransmitted"`
	Acked         uint64 `json:"acked"`
	Failed        uint64 `json:"failed"`
	Duplicates    uint64 `json:"duplicates"`
	Delivered     uint64 `json:"delivered"`
	Unframed      uint64 `json:"unframed"`
}

// envelope is the bookkeeping record for one in-flight reliable send.
type envelope struct {
	peer     net.Addr
	seq      uint32
	frame    []byte
	retries  int
	lastSent time.Time
}

type envelopeKey struct {
	peer string
	seq  uint32
}

type envelopeTable map[envelopeKey]*envelope

// Transport owns a UDP socket and provides at-most-once delivery of DATA
// payloads with retransmission until acknowledged.
//
// The envelope table belongs to a single goroutine. Send, OnReceive and
// Outstanding hand it closures through a work queue, so the receive path and
// the retry sweep never touch the table concurrently.
type Transport struct {
	conn   net.PacketConn
	opts   Options
	logger zerolog.Logger

	nextSeq atomic.Uint32

	ops      chan func(envelopeTable)
	failures chan PeerUnreachable
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	recvMu  sync.Mutex
	windows map[string]*seqWindow

	sent          atomic.Uint64
	retransmitted atomic.Uint64
	acked         atomic.Uint64
	failed        atomic.Uint64
	duplicates    atomic.Uint64
	delivered     atomic.Uint64
	unframed      atomic.Uint64
}

// NewTransport takes ownership of conn and starts the retry goroutine.
// Call Shutdown to stop it and close the socket.
func NewTransport(conn net.PacketConn, opts Options) *Transport {
	t := &Transport{
		conn:     conn,
		opts:     opts.withDefaults(),
		logger:   util.ComponentLogger("transport"),
		ops:      make(chan func(envelopeTable)),
		failures: make(chan PeerUnreachable),
		stopCh:   make(chan struct{}),
		windows:  make(map[string]*seqWindow),
	}

	t.wg.Add(1)
	go t.run()

	t.logger.Info().
		Str("local", conn.LocalAddr().String()).
		Dur("retry_timeout", t.opts.RetryTimeout).
		Int("max_retries", t.opts.MaxRetries).
		Int("capacity", t.opts.Capacity).
		Msg("reliable transport started")

	return t
}

// LocalAddr returns the bound socket address.
func (t *Transport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Failures delivers one PeerUnreachable per peer whose retries ran out.
func (t *Transport) Failures() <-chan PeerUnreachable {
	return t.failures
}

// Send frames payload with the next sequence number, registers it for
// retransmission and transmits it once. It does not wait for the ACK.
//
// A socket write error is returned, but the envelope stays registered and
// the retry loop keeps trying.
func (t *Transport) Send(peer net.Addr, payload []byte) (uint32, error) {
	if peer == nil {
		return 0, errors.New("transport: nil peer address")
	}

	seq := t.nextSeq.Add(1)
	frame := protocol.EncodeData(seq, payload)
	if len(frame) > protocol.MaxDatagramSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(frame))
	}

	full := false
	err := t.do(func(table envelopeTable) {
		if len(table) >= t.opts.Capacity {
			full = true
			return
		}
		table[envelopeKey{peer: peer.String(), seq: seq}] = &envelope{
			peer:     peer,
			seq:      seq,
			frame:    frame,
			lastSent: time.Now(),
		}
	})
	if err != nil {
		return 0, err
	}
	if full {
		return 0, ErrTableFull
	}

	t.sent.Add(1)
	if _, err := t.conn.WriteTo(frame, peer); err != nil {
		return seq, fmt.Errorf("transport: send seq %d to %s: %w", seq, peer, err)
	}

	t.logger.Debug().
		Str("peer", peer.String()).
		Uint32("seq", seq).
		Int("bytes", len(frame)).
		Msg("data sent")
	return seq, nil
}

// OnReceive strips the transport header from an inbound datagram.
//
// ACKs remove the matching envelope and yield nothing. DATA is acknowledged
// immediately and returned unless the same (peer, seq) was already
// delivered. Datagrams without a usable header are returned untouched.
func (t *Transport) OnReceive(raw []byte, from net.Addr) ([]byte, bool) {
	frame, payload, err := protocol.DecodeFrame(raw)
	if err != nil {
		t.unframed.Add(1)
		t.delivered.Add(1)
		t.logger.Debug().Str("peer", from.String()).Msg("unframed datagram delivered as-is")
		return raw, true
	}

	if frame.Kind == protocol.FrameAck {
		t.ack(from, frame.Seq)
		return nil, false
	}

	if _, err := t.conn.WriteTo(protocol.EncodeAck(frame.Seq), from); err != nil {
		t.logger.Debug().Err(err).Str("peer", from.String()).Uint32("seq", frame.Seq).Msg("ack write failed")
	}

	if !t.firstDelivery(from, frame.Seq) {
		t.duplicates.Add(1)
		t.logger.Debug().Str("peer", from.String()).Uint32("seq", frame.Seq).Msg("duplicate suppressed")
		return nil, false
	}

	t.delivered.Add(1)
	return payload, true
}

// Serve runs the socket receive path until ctx is cancelled or the
// transport shuts down. Each read is bounded by ReadTimeout so cancellation
// is observed promptly. handler is called for every delivered payload.
func (t *Transport) Serve(ctx context.Context, handler func(payload []byte, from net.Addr)) error {
	buf := make([]byte, protocol.MaxDatagramSize)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.stopCh:
			return nil
		default:
		}

		if err := t.conn.SetReadDeadline(time.Now().Add(t.opts.ReadTimeout)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("transport: set read deadline: %w", err)
		}

		n, from, err := t.conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			t.logger.Warn().Err(err).Msg("udp read error")
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		if payload, ok := t.OnReceive(data, from); ok {
			handler(payload, from)
		}
	}
}

// ForgetPeer abandons every outstanding envelope to peer and resets its
// duplicate window, e.g. when the peer restarts its sequence numbering.
func (t *Transport) ForgetPeer(peer net.Addr) int {
	key := peer.String()

	t.recvMu.Lock()
	delete(t.windows, key)
	t.recvMu.Unlock()

	dropped := 0
	_ = t.do(func(table envelopeTable) {
		for k := range table {
			if k.peer == key {
				delete(table, k)
				dropped++
			}
		}
	})
	return dropped
}

// Outstanding returns the number of unacknowledged envelopes.
func (t *Transport) Outstanding() int {
	n := 0
	if err := t.do(func(table envelopeTable) { n = len(table) }); err != nil {
		return 0
	}
	return n
}

// Stats returns a snapshot of the transport counters.
func (t *Transport) Stats() Stats {
	return Stats{
		Outstanding:   t.Outstanding(),
		Sent:          t.sent.Load(),
		Retransmitted: t.retransmitted.Load(),
		Acked:         t.acked.Load(),
		Failed:        t.failed.Load(),
		Duplicates:    t.duplicates.Load(),
		Delivered:     t.delivered.Load(),
		Unframed:      t.unframed.Load(),
	}
}

// Shutdown stops the retry goroutine, releases all envelopes and closes the
// socket. It is safe to call more than once and from any goroutine.
func (t *Transport) Shutdown() error {
	var err error
	t.stopOnce.Do(func() {
		close(t.stopCh)
		t.wg.Wait()

		t.recvMu.Lock()
		t.windows = make(map[string]*seqWindow)
		t.recvMu.Unlock()

		err = t.conn.Close()
		t.logger.Info().Msg("reliable transport stopped")
	})
	return err
}

// do runs fn on the table-owning goroutine and waits for it.
func (t *Transport) do(fn func(envelopeTable)) error {
	done := make(chan struct{})
	op := func(table envelopeTable) {
		fn(table)
		close(done)
	}

	select {
	case t.ops <- op:
	case <-t.stopCh:
		return ErrClosed
	}

	select {
	case <-done:
		return nil
	case <-t.stopCh:
		return ErrClosed
	}
}

func (t *Transport) run() {
	defer t.wg.Done()

	table := make(envelopeTable)
	ticker := time.NewTicker(t.opts.TickInterval)
	defer ticker.Stop()

	// Failures queue here so a slow consumer never stalls the sweep.
	var pending []PeerUnreachable

	for {
		var (
			out  chan<- PeerUnreachable
			next PeerUnreachable
		)
		if len(pending) > 0 {
			out = t.failures
			next = pending[0]
		}

		select {
		case <-t.stopCh:
			clear(table)
			return
		case op := <-t.ops:
			op(table)
		case now := <-ticker.C:
			pending = append(pending, t.sweep(table, now)...)
		case out <- next:
			pending = pending[1:]
		}
	}
}

// sweep retransmits every envelope older than RetryTimeout and gives up on
// the ones that already used MaxRetries.
func (t *Transport) sweep(table envelopeTable, now time.Time) []PeerUnreachable {
	var exhausted map[string]*PeerUnreachable

	for key, env := range table {
		if now.Sub(env.lastSent) < t.opts.RetryTimeout {
			continue
		}

		if env.retries < t.opts.MaxRetries {
			env.retries++
			env.lastSent = now
			t.retransmitted.Add(1)
			if _, err := t.conn.WriteTo(env.frame, env.peer); err != nil {
				t.logger.Debug().Err(err).Str("peer", key.peer).Uint32("seq", env.seq).Msg("retransmit write failed")
			}
			t.logger.Debug().
				Str("peer", key.peer).
				Uint32("seq", env.seq).
				Int("retry", env.retries).
				Msg("retransmitted")
			continue
		}

		if exhausted == nil {
			exhausted = make(map[string]*PeerUnreachable)
		}
		if _, seen := exhausted[key.peer]; !seen {
			exhausted[key.peer] = &PeerUnreachable{Peer: env.peer, Seq: env.seq, Retries: env.retries}
		}
	}

	if len(exhausted) == 0 {
		return nil
	}

	failures := make([]PeerUnreachable, 0, len(exhausted))
	for peer, ev := range exhausted {
		for key := range table {
			if key.peer == peer {
				delete(table, key)
				ev.Abandoned++
			}
		}
		t.failed.Add(1)
		t.logger.Warn().
			Str("peer", peer).
			Uint32("seq", ev.Seq).
			Int("retries", ev.Retries).
			Int("abandoned", ev.Abandoned).
			Msg("peer unreachable, retries exhausted")
		failures = append(failures, *ev)
	}
	return failures
}

func (t *Transport) ack(from net.Addr, seq uint32) {
	key := envelopeKey{peer: from.String(), seq: seq}
	removed := false
	if err := t.do(func(table envelopeTable) {
		if _, ok := table[key]; ok {
			delete(table, key)
			removed = true
		}
	}); err != nil {
		return
	}

	if removed {
		t.acked.Add(1)
		t.logger.Debug().Str("peer", key.peer).Uint32("seq", seq).Msg("ack received")
		return
	}
	t.logger.Debug().Str("peer", key.peer).Uint32("seq", seq).Msg("spurious ack ignored")
}

// firstDelivery records (from, seq) in the peer's window and reports
// whether it was new.
func (t *Transport) firstDelivery(from net.Addr, seq uint32) bool {
	t.recvMu.Lock()
	defer t.recvMu.Unlock()

	key := from.String()
	w, ok := t.windows[key]
	if !ok {
		w = newSeqWindow(t.opts.DedupeWindow)
		t.windows[key] = w
	}
	return w.observe(seq)
}
