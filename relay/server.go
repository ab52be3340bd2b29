package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/murmur/codec"
	"github.com/opd-ai/murmur/crypto"
	"github.com/opd-ai/murmur/internal/instrument"
	"github.com/opd-ai/murmur/limits"
	"github.com/opd-ai/murmur/transport"
)

const (
	// DefaultCapacity is the number of slots when Options leaves it unset.
	DefaultCapacity = 16

	// DefaultLabel is the identity label given to every admitted client.
	DefaultLabel = "user"

	// DefaultPollInterval bounds how long an idle slot waits for input
	// before checking for outgoing messages again.
	DefaultPollInterval = 10 * time.Millisecond

	// DefaultStepTimeout bounds each blocking step of an exchange.
	DefaultStepTimeout = 5 * time.Second
)

const acceptRetryDelay = 50 * time.Millisecond

// ErrServerClosed is returned by Run once the server has shut down.
var ErrServerClosed = errors.New("relay server closed")

// Eviction reasons reported to instrumentation.
const (
	reasonPeerClosed = "peer_closed"
	reasonTimeout    = "timeout"
	reasonDecryption = "decryption"
	reasonDelivery   = "delivery"
	reasonShutdown   = "shutdown"
	reasonError      = "error"
)

// Options configures a Server. Zero values select the defaults.
type Options struct {
	Capacity     int
	DefaultLabel string
	PollInterval time.Duration

	// StepTimeout bounds each read or write of an exchange. A negative
	// value disables the bound.
	StepTimeout time.Duration

	// Keys is the server keypair. When nil a fresh one is generated. The
	// server wipes it on shutdown.
	Keys *crypto.KeyPair
}

func (o *Options) withDefaults() (Options, error) {
	var opts Options
	if o != nil {
		opts = *o
	}
	if opts.Capacity == 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Capacity < 0 {
		return opts, fmt.Errorf("invalid capacity %d", opts.Capacity)
	}
	if opts.DefaultLabel == "" {
		opts.DefaultLabel = DefaultLabel
	}
	if err := limits.ValidateLabel(opts.DefaultLabel); err != nil {
		return opts, err
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	switch {
	case opts.StepTimeout == 0:
		opts.StepTimeout = DefaultStepTimeout
	case opts.StepTimeout < 0:
		opts.StepTimeout = 0
	}
	return opts, nil
}

type acceptResult struct {
	conn net.Conn
	err  error
}

// Server relays every message received from one client to all other
// connected clients, prefixed with the sender's label.
//
// A single coordinator goroutine (Run) owns the connection table. Each
// admitted connection gets an owner goroutine doing its I/O, and an acceptor
// goroutine calls Accept only while a slot is free.
type Server struct {
	listener  net.Listener
	opts      Options
	keys      *crypto.KeyPair
	publicKey [32]byte

	table  *Table
	owners []*slotOwner
	count  atomic.Int64

	events     chan event
	accepted   chan acceptResult
	admitReady chan struct{}
	granted    bool

	started  atomic.Bool
	acceptWG sync.WaitGroup
}

// NewServer creates a relay on an existing listener. The server takes
// ownership of ln and closes it when Run returns.
func NewServer(ln net.Listener, opts *Options) (*Server, error) {
	if ln == nil {
		return nil, fmt.Errorf("%w: nil listener", transport.ErrConnection)
	}

	o, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	keys := o.Keys
	if keys == nil {
		keys, err = crypto.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
	}

	s := &Server{
		listener:   ln,
		opts:       o,
		keys:       keys,
		publicKey:  keys.Public,
		table:      NewTable(o.Capacity, o.DefaultLabel),
		owners:     make([]*slotOwner, o.Capacity),
		events:     make(chan event, o.Capacity),
		accepted:   make(chan acceptResult),
		admitReady: make(chan struct{}, 1),
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewServer",
		"address":  ln.Addr().String(),
		"capacity": o.Capacity,
	}).WithFields(crypto.SecureFieldHash(keys.Public[:], "public_key")).Info("Relay server created")

	return s, nil
}

// Listen opens a TCP listener on addr and creates a relay on it.
func Listen(addr string, opts *Options) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return nil, &transport.OpError{Op: "listen", Addr: addr, Err: fmt.Errorf("%w: %v", transport.ErrResolution, err)}
		}
		return nil, &transport.OpError{Op: "listen", Addr: addr, Err: fmt.Errorf("%w: %v", transport.ErrConnection, err)}
	}

	s, err := NewServer(ln, opts)
	if err != nil {
		ln.Close()
		return nil, err
	}
	return s, nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// ConnectionCount returns the number of connected clients. It is safe to
// call from any goroutine.
func (s *Server) ConnectionCount() int {
	return int(s.count.Load())
}

// PublicKey returns the server's public key.
func (s *Server) PublicKey() [32]byte {
	return s.publicKey
}

// Run relays messages until ctx is cancelled. Before returning it evicts
// every client, closes the listener and wipes the server keypair. Run may
// only be called once.
func (s *Server) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrServerClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	defer s.shutdown(cancel)

	s.acceptWG.Add(1)
	go s.acceptLoop(ctx)

	logrus.WithFields(logrus.Fields{
		"function": "Server.Run",
		"address":  s.listener.Addr().String(),
	}).Info("Relay server running")

	for {
		s.grantAccept()

		select {
		case <-ctx.Done():
			return nil
		case res := <-s.accepted:
			s.granted = false
			if res.err != nil {
				if errors.Is(res.err, net.ErrClosed) {
					return &transport.OpError{Op: "accept", Addr: s.listener.Addr().String(), Err: fmt.Errorf("%w: %v", transport.ErrConnection, res.err)}
				}
				instrument.Rejected()
				logrus.WithFields(logrus.Fields{
					"function": "Server.Run",
					"error":    res.err.Error(),
				}).Warn("Accept failed")
				continue
			}
			s.admit(res.conn)
		case ev := <-s.events:
			s.handleEvent(ctx, ev)
		}
	}
}

// grantAccept lets the acceptor take one connection while a slot is free.
func (s *Server) grantAccept() {
	if s.granted || s.table.Full() {
		return
	}
	select {
	case s.admitReady <- struct{}{}:
		s.granted = true
	default:
	}
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.acceptWG.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.admitReady:
		}

		conn, err := s.listener.Accept()
		select {
		case s.accepted <- acceptResult{conn: conn, err: err}:
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
			return
		}
		if err == nil {
			continue
		}
		if errors.Is(err, net.ErrClosed) {
			return
		}

		// Back off briefly on errors such as descriptor exhaustion.
		select {
		case <-time.After(acceptRetryDelay):
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) admit(conn net.Conn) {
	index, err := s.table.Admit(conn)
	if err != nil {
		instrument.Rejected()
		logrus.WithFields(logrus.Fields{
			"function": "Server.admit",
			"remote":   remoteAddr(conn),
			"error":    err.Error(),
		}).Warn("Connection rejected")
		if conn != nil {
			conn.Close()
		}
		return
	}

	slot, err := s.table.Slot(index)
	if err != nil {
		crypto.NewLogger("relay", "Server.admit").
			WithField("slot", index).
			WithError(err, "slot lookup").
			Error("Admitted slot is unreadable")
		s.table.Evict(index)
		conn.Close()
		return
	}
	session := transport.NewSession(conn, s.keys, s.opts.StepTimeout)
	session.SetSide(transport.SideServer)
	owner := newSlotOwner(index, slot.Generation, session, s.opts.PollInterval, s.events)
	s.owners[index] = owner
	go owner.run()

	s.count.Store(int64(s.table.Count()))
	instrument.Admitted()
	instrument.Connected(s.table.Count())

	logrus.WithFields(logrus.Fields{
		"function":    "Server.admit",
		"slot":        index,
		"remote":      remoteAddr(conn),
		"connections": s.table.Count(),
	}).Info("Client connected")
}

func (s *Server) handleEvent(ctx context.Context, ev event) {
	owner := s.owners[ev.index]
	if owner == nil || owner.generation != ev.generation {
		logrus.WithFields(logrus.Fields{
			"function":   "Server.handleEvent",
			"slot":       ev.index,
			"generation": ev.generation,
		}).Debug("Discarding event from previous occupant")
		return
	}

	if ev.err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Server.handleEvent",
			"slot":     ev.index,
			"error":    ev.err.Error(),
		}).Info("Receive failed")
		s.evict(ev.index, evictReason(ev.err))
		return
	}

	if ev.msg == "" {
		return
	}

	slot, err := s.table.Slot(ev.index)
	if err != nil {
		return
	}

	if n := limits.LabeledLength(slot.Label, ev.msg); n > limits.MaxMessageLength {
		instrument.Dropped("too_long")
		logrus.WithFields(logrus.Fields{
			"function": "Server.handleEvent",
			"slot":     ev.index,
			"length":   n,
			"error":    limits.ErrMessageTooLong.Error(),
		}).Warn("Dropping message that does not fit with its label")
		return
	}

	s.broadcast(ctx, ev.index, slot.Label+limits.LabelSeparator+ev.msg)
}

// broadcast delivers msg to every connected slot except from, in index
// order, one at a time. A slot that fails delivery is evicted.
func (s *Server) broadcast(ctx context.Context, from int, msg string) {
	delivered := 0
	for i := 0; i < s.table.Capacity(); i++ {
		if i == from || !s.table.Connected(i) {
			continue
		}

		err := s.deliver(ctx, s.owners[i], msg)
		if err == nil {
			delivered++
			continue
		}
		if ctx.Err() != nil {
			return
		}

		logrus.WithFields(logrus.Fields{
			"function": "Server.broadcast",
			"slot":     i,
			"error":    err.Error(),
		}).Info("Delivery failed")
		s.evict(i, reasonDelivery)
	}

	instrument.Relayed(delivered)
	logrus.WithFields(logrus.Fields{
		"function":   "Server.broadcast",
		"from":       from,
		"recipients": delivered,
	}).Debug("Message relayed")
}

// deliver runs one Send on owner's goroutine and waits for it to finish.
func (s *Server) deliver(ctx context.Context, owner *slotOwner, msg string) error {
	if owner == nil {
		return ErrSlotEmpty
	}

	req := sendRequest{msg: msg, result: make(chan error, 1)}
	select {
	case owner.outbox <- req:
	case <-owner.done:
		return transport.ErrPeerClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.result:
		return err
	case <-owner.done:
		select {
		case err := <-req.result:
			return err
		default:
			return transport.ErrPeerClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// evict removes slot index, closes its connection and joins its owner.
func (s *Server) evict(index int, reason string) {
	conn, err := s.table.Evict(index)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Server.evict",
			"slot":     index,
			"error":    err.Error(),
		}).Debug("Slot already evicted")
		return
	}

	owner := s.owners[index]
	s.owners[index] = nil
	if owner != nil {
		owner.stop()
	}
	remote := remoteAddr(conn)
	conn.Close()
	if owner != nil {
		<-owner.done
	}

	s.count.Store(int64(s.table.Count()))
	instrument.Evicted(reason)
	instrument.Connected(s.table.Count())

	logrus.WithFields(logrus.Fields{
		"function":    "Server.evict",
		"slot":        index,
		"remote":      remote,
		"reason":      reason,
		"connections": s.table.Count(),
	}).Info("Client disconnected")
}

// shutdown runs on every exit from Run, including panics.
func (s *Server) shutdown(cancel context.CancelFunc) {
	cancel()

	for i := 0; i < s.table.Capacity(); i++ {
		if s.table.Connected(i) {
			s.evict(i, reasonShutdown)
		}
	}

	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		logrus.WithFields(logrus.Fields{
			"function": "Server.shutdown",
			"error":    err.Error(),
		}).Warn("Failed to close listener")
	}
	s.acceptWG.Wait()

	if err := crypto.WipeKeyPair(s.keys); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Server.shutdown",
			"error":    err.Error(),
		}).Warn("Failed to wipe server keys")
	}

	logrus.WithFields(logrus.Fields{
		"function": "Server.shutdown",
	}).Info("Relay server stopped")
}

func evictReason(err error) string {
	switch {
	case errors.Is(err, transport.ErrPeerClosed):
		return reasonPeerClosed
	case errors.Is(err, transport.ErrTimeout):
		return reasonTimeout
	case errors.Is(err, codec.ErrDecryption):
		return reasonDecryption
	default:
		return reasonError
	}
}

func remoteAddr(conn net.Conn) string {
	if conn == nil || conn.RemoteAddr() == nil {
		return ""
	}
	return conn.RemoteAddr().String()
}
