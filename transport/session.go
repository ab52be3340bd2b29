package transport

import (
	"bufio"
	"errors"
	"io"
	"net"
	"time"

	"github.com/opd-ai/murmur/codec"
	"github.com/opd-ai/murmur/crypto"
	"github.com/opd-ai/murmur/limits"
)

// Side decides which end keeps going when both ends of a connection open an
// exchange at the same moment.
type Side int

const (
	// SideClient yields: it answers the peer's exchange first and then
	// finishes its own.
	SideClient Side = iota
	// SideServer wins: it finishes its own exchange and answers the peer's
	// afterwards.
	SideServer
)

// inbound is a message received while a Send was in progress.
type inbound struct {
	msg string
	err error
}

// Session runs the per-message exchange over one connection.
//
// Each message is a strict four-step exchange: the sender writes a probe, the
// receiver answers with a key declaration, the sender writes the encrypted
// envelope, the receiver decrypts it. The roles are per exchange, so the same
// Session sends and receives.
//
// A Session must be driven by a single goroutine. All reads go through one
// buffered reader so that Poll never consumes bytes a later step needs.
type Session struct {
	conn        net.Conn
	reader      *bufio.Reader
	keys        *crypto.KeyPair
	stepTimeout time.Duration
	remote      string
	side        Side

	// peerWaiting is set when the peer's probe was consumed by a Send and
	// the peer now waits for our key declaration.
	peerWaiting bool
	// inbox holds messages received while yielding inside a Send.
	inbox []inbound
}

// NewSession wraps conn as SideClient. keys is shared read-only; stepTimeout
// bounds every blocking read or write of an exchange, zero meaning no bound.
func NewSession(conn net.Conn, keys *crypto.KeyPair, stepTimeout time.Duration) *Session {
	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	return &Session{
		conn:        conn,
		reader:      bufio.NewReaderSize(conn, limits.EnvelopeSize),
		keys:        keys,
		stepTimeout: stepTimeout,
		remote:      remote,
	}
}

// SetSide sets how the session resolves two exchanges started at once. The
// two ends of a connection must be on opposite sides.
func (s *Session) SetSide(side Side) {
	s.side = side
}

// Send delivers msg to the peer acting as sender. An empty msg is a no-op and
// performs no I/O. A msg longer than limits.MaxMessageLength is rejected
// before anything is written.
//
// If the peer opened its own exchange at the same time, a SideClient session
// receives the peer's message first and keeps it for the next Receive; a
// SideServer session sends first and leaves the peer's exchange for Receive.
func (s *Session) Send(msg string) error {
	if err := limits.ValidateMessage([]byte(msg)); err != nil {
		if errors.Is(err, limits.ErrMessageEmpty) {
			return nil
		}
		return newOpError("send", s.remote, err)
	}

	if s.peerWaiting {
		s.peerWaiting = false
		m, err := s.respond()
		if err != nil && !errors.Is(err, codec.ErrDecryption) {
			return err
		}
		s.inbox = append(s.inbox, inbound{msg: m, err: err})
	}

	if err := s.write("send probe", codec.Probe()); err != nil {
		return err
	}

	decl, err := s.awaitDeclaration()
	if err != nil {
		return err
	}

	env, err := codec.Encrypt([]byte(msg), limits.MaxMessageLength, decl.PublicKey, s.keys.Private)
	if err != nil {
		return newOpError("encrypt", s.remote, err)
	}
	env.PublicKey = s.keys.Public

	wire, err := env.MarshalBinary()
	if err != nil {
		return newOpError("encode", s.remote, err)
	}

	if err := s.write("send envelope", wire); err != nil {
		return err
	}

	s.logger("Session.Send").WithField("length", len(msg)).Debug("Message sent")
	return nil
}

// awaitDeclaration reads the peer's key declaration, settling a peer exchange
// that crossed ours according to the session's side.
func (s *Session) awaitDeclaration() (*codec.Envelope, error) {
	const op = "await key declaration"
	buf := make([]byte, limits.EnvelopeSize)
	for {
		head := buf[:limits.ProbeLength]
		if err := s.read(op, head); err != nil {
			return nil, err
		}
		if !codec.IsProbe(head) {
			break
		}

		if s.side == SideServer {
			s.peerWaiting = true
			continue
		}

		s.logger("Session.Send").Debug("Peer started an exchange, answering it first")
		m, err := s.respond()
		if err != nil && !errors.Is(err, codec.ErrDecryption) {
			return nil, err
		}
		s.inbox = append(s.inbox, inbound{msg: m, err: err})
	}

	if err := s.read(op, buf[limits.ProbeLength:]); err != nil {
		return nil, err
	}
	var env codec.Envelope
	if err := env.UnmarshalBinary(buf); err != nil {
		return nil, newOpError(op, s.remote, err)
	}
	return &env, nil
}

// Receive runs the exchange as receiver and returns the decrypted text with
// its padding removed. Decryption failures are reported as
// codec.ErrDecryption, distinct from ErrPeerClosed and ErrTimeout.
//
// Messages taken in during an earlier Send are returned first, in order.
func (s *Session) Receive() (string, error) {
	if len(s.inbox) > 0 {
		next := s.inbox[0]
		s.inbox = s.inbox[1:]
		return next.msg, next.err
	}

	if s.peerWaiting {
		s.peerWaiting = false
	} else {
		probe := make([]byte, limits.ProbeLength)
		if err := s.read("await probe", probe); err != nil {
			return "", err
		}
	}
	return s.respond()
}

// respond runs the receiver side from the key declaration onwards.
func (s *Session) respond() (string, error) {
	decl, err := codec.KeyDeclaration(s.keys.Public).MarshalBinary()
	if err != nil {
		return "", newOpError("encode", s.remote, err)
	}
	if err := s.write("declare key", decl); err != nil {
		return "", err
	}

	env, err := s.readEnvelope("await envelope")
	if err != nil {
		return "", err
	}

	padded, err := codec.Decrypt(env, limits.CiphertextLength, s.keys.Private)
	if err != nil {
		s.logger("Session.Receive").WithError(err, "decrypt").Warn("Dropping undecryptable envelope")
		return "", newOpError("decrypt", s.remote, err)
	}
	defer crypto.ZeroBytes(padded)

	msg := codec.Unpad(padded)
	s.logger("Session.Receive").WithField("length", len(msg)).Debug("Message received")
	return msg, nil
}

// Pending reports, without blocking, whether an incoming exchange is already
// waiting to be received.
func (s *Session) Pending() bool {
	return len(s.inbox) > 0 || s.peerWaiting || s.reader.Buffered() > 0
}

// Poll reports whether the peer has started an exchange, waiting at most
// wait for the first byte. A zero wait blocks until data or an error arrives.
// It returns ErrPeerClosed once the peer has closed the connection.
func (s *Session) Poll(wait time.Duration) (bool, error) {
	if s.Pending() {
		return true, nil
	}

	if wait > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
			return false, newOpError("poll", s.remote, classifyIOError(err))
		}
		defer s.conn.SetReadDeadline(time.Time{})
	}

	if _, err := s.reader.Peek(1); err != nil {
		if isTimeout(err) {
			return false, nil
		}
		return false, newOpError("poll", s.remote, classifyIOError(err))
	}
	return true, nil
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}

// RemoteAddr returns the peer address as a string.
func (s *Session) RemoteAddr() string {
	return s.remote
}

func (s *Session) logger(function string) *crypto.LoggerHelper {
	return crypto.NewLogger("transport", function).WithField("remote", s.remote)
}

// readEnvelope reads and decodes one EnvelopeSize buffer.
func (s *Session) readEnvelope(op string) (*codec.Envelope, error) {
	buf := make([]byte, limits.EnvelopeSize)
	if err := s.read(op, buf); err != nil {
		return nil, err
	}

	var env codec.Envelope
	if err := env.UnmarshalBinary(buf); err != nil {
		return nil, newOpError(op, s.remote, err)
	}
	return &env, nil
}

// read fills buf completely within one step timeout.
func (s *Session) read(op string, buf []byte) error {
	if s.stepTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.stepTimeout)); err != nil {
			return newOpError(op, s.remote, classifyIOError(err))
		}
		defer s.conn.SetReadDeadline(time.Time{})
	}

	if _, err := io.ReadFull(s.reader, buf); err != nil {
		return newOpError(op, s.remote, classifyIOError(err))
	}
	return nil
}

// write sends buf completely within one step timeout.
func (s *Session) write(op string, buf []byte) error {
	if s.stepTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.stepTimeout)); err != nil {
			return newOpError(op, s.remote, classifyIOError(err))
		}
		defer s.conn.SetWriteDeadline(time.Time{})
	}

	if _, err := s.conn.Write(buf); err != nil {
		return newOpError(op, s.remote, classifyIOError(err))
	}
	return nil
}
