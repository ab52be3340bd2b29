package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/murmur/codec"
	"github.com/opd-ai/murmur/crypto"
	"github.com/opd-ai/murmur/limits"
	"github.com/opd-ai/murmur/transport"
)

const (
	// DefaultPollInterval bounds how long the connection loop waits for an
	// incoming message before checking for outgoing ones.
	DefaultPollInterval = 10 * time.Millisecond

	// DefaultStepTimeout bounds each blocking step of an exchange.
	DefaultStepTimeout = 5 * time.Second
)

var (
	// ErrNotConnected indicates Send was called with no server connection
	ErrNotConnected = errors.New("not connected")

	// ErrClosed indicates the client has been closed
	ErrClosed = errors.New("client closed")
)

// Status is the connection state reported to OnStatus.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "Connected"
	case StatusDisconnected:
		return "Disconnected"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Options configures a Client. Zero values select the defaults.
type Options struct {
	// Dial controls name resolution, connect timeout and proxying.
	Dial transport.DialOptions

	// StepTimeout bounds each read or write of an exchange. A negative
	// value disables the bound.
	StepTimeout time.Duration

	PollInterval time.Duration

	// Keys is the client keypair. When nil a fresh one is generated. Close
	// wipes it.
	Keys *crypto.KeyPair
}

// Client holds at most one connection to a relay server. Messages arriving
// from the server are passed to the OnMessage callback; connection changes
// are passed to OnStatus. Callbacks run on the connection goroutine and must
// not call Connect, Disconnect or Close.
type Client struct {
	opts Options
	keys *crypto.KeyPair

	mu        sync.Mutex
	conn      *connection
	status    Status
	host      string
	closed    bool
	onMessage func(string)
	onStatus  func(Status, string)
}

type sendRequest struct {
	msg    string
	result chan error
}

// connection is one server connection and the goroutine that owns its I/O.
type connection struct {
	session *transport.Session
	host    string
	outbox  chan sendRequest
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func (cn *connection) stop() {
	cn.once.Do(func() { close(cn.quit) })
}

// New creates a disconnected client.
func New(opts *Options) (*Client, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	switch {
	case o.StepTimeout == 0:
		o.StepTimeout = DefaultStepTimeout
	case o.StepTimeout < 0:
		o.StepTimeout = 0
	}

	keys := o.Keys
	if keys == nil {
		var err error
		keys, err = crypto.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
	}

	return &Client{
		opts:   o,
		keys:   keys,
		status: StatusDisconnected,
	}, nil
}

// OnMessage sets the callback for received messages.
func (c *Client) OnMessage(fn func(string)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// OnStatus sets the callback for connection changes. host is the server
// name passed to Connect.
func (c *Client) OnStatus(fn func(Status, string)) {
	c.mu.Lock()
	c.onStatus = fn
	c.mu.Unlock()
}

// Status returns the current connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Host returns the server name of the current connection, if any.
func (c *Client) Host() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.host
}

// PublicKey returns the client's public key.
func (c *Client) PublicKey() [32]byte {
	return c.keys.Public
}

// Connect dials host:port and starts receiving. Any existing connection is
// torn down first, so a client never holds two server slots.
func (c *Client) Connect(ctx context.Context, host string, port uint16) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if err := c.Disconnect(); err != nil {
		return err
	}

	conn, err := transport.Dial(ctx, host, port, &c.opts.Dial)
	if err != nil {
		return err
	}

	cn := &connection{
		session: transport.NewSession(conn, c.keys, c.opts.StepTimeout),
		host:    host,
		outbox:  make(chan sendRequest),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed || c.conn != nil {
		// Lost a race with Close or another Connect.
		c.mu.Unlock()
		conn.Close()
		if c.closed {
			return ErrClosed
		}
		return fmt.Errorf("%w: concurrent connect", transport.ErrConnection)
	}
	c.conn = cn
	c.status = StatusConnected
	c.host = host
	notify := c.onStatus
	c.mu.Unlock()

	go c.loop(cn)

	logrus.WithFields(logrus.Fields{
		"function": "Client.Connect",
		"host":     host,
		"port":     port,
	}).Info("Connected")

	if notify != nil {
		notify(StatusConnected, host)
	}
	return nil
}

// Send relays msg through the server. An empty msg is a no-op. Failures
// other than limits.ErrMessageTooLong drop the connection.
func (c *Client) Send(msg string) error {
	if err := limits.ValidateMessage([]byte(msg)); err != nil {
		if errors.Is(err, limits.ErrMessageEmpty) {
			return nil
		}
		return err
	}

	c.mu.Lock()
	cn := c.conn
	c.mu.Unlock()
	if cn == nil {
		return ErrNotConnected
	}

	req := sendRequest{msg: msg, result: make(chan error, 1)}
	select {
	case cn.outbox <- req:
	case <-cn.done:
		return ErrNotConnected
	}

	select {
	case err := <-req.result:
		return err
	case <-cn.done:
		select {
		case err := <-req.result:
			return err
		default:
			return ErrNotConnected
		}
	}
}

// Disconnect closes the current connection, if any.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	cn := c.conn
	c.conn = nil
	if cn == nil {
		c.mu.Unlock()
		return nil
	}
	c.status = StatusDisconnected
	host := c.host
	c.host = ""
	notify := c.onStatus
	c.mu.Unlock()

	cn.stop()
	cn.session.Close()
	<-cn.done

	logrus.WithFields(logrus.Fields{
		"function": "Client.Disconnect",
		"host":     host,
	}).Info("Disconnected")

	if notify != nil {
		notify(StatusDisconnected, host)
	}
	return nil
}

// Close disconnects and wipes the client keypair. The client cannot be
// reused afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.Disconnect(); err != nil {
		return err
	}
	return crypto.WipeKeyPair(c.keys)
}

// loop owns cn's session until it is stopped or the connection fails.
func (c *Client) loop(cn *connection) {
	defer close(cn.done)

	for {
		select {
		case <-cn.quit:
			return
		default:
		}

		if !cn.session.Pending() {
			select {
			case req := <-cn.outbox:
				err := cn.session.Send(req.msg)
				req.result <- err
				// After a failed encrypt the server still waits for an
				// envelope, so only a length rejection keeps the stream usable.
				if err != nil && !errors.Is(err, limits.ErrMessageTooLong) {
					c.drop(cn, err)
					return
				}
				continue
			default:
			}
		}

		ready, err := cn.session.Poll(c.opts.PollInterval)
		if err != nil {
			c.drop(cn, err)
			return
		}
		if !ready {
			continue
		}

		msg, err := cn.session.Receive()
		if err != nil {
			if errors.Is(err, codec.ErrDecryption) {
				logrus.WithFields(logrus.Fields{
					"function": "Client.loop",
					"host":     cn.host,
					"error":    err.Error(),
				}).Warn("Dropping message that failed to decrypt")
				continue
			}
			c.drop(cn, err)
			return
		}
		if msg == "" {
			continue
		}

		c.mu.Lock()
		deliver := c.onMessage
		c.mu.Unlock()
		if deliver != nil {
			deliver(msg)
		}
	}
}

// drop tears down cn after a failure detected on its own goroutine.
func (c *Client) drop(cn *connection, cause error) {
	cn.session.Close()

	c.mu.Lock()
	if c.conn != cn {
		// Disconnect already took it.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.status = StatusDisconnected
	c.host = ""
	notify := c.onStatus
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Client.drop",
		"host":     cn.host,
		"error":    cause.Error(),
	}).Warn("Connection lost")

	if notify != nil {
		notify(StatusDisconnected, cn.host)
	}
}
