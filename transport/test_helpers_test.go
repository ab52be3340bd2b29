package transport

import (
	"bytes"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/murmur/crypto"
)

func newKeys(t *testing.T) *crypto.KeyPair {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	return kp
}

// countingConn records every Read and Write passing through it.
type countingConn struct {
	net.Conn
	mu     sync.Mutex
	reads  int
	writes int
}

func (c *countingConn) Read(b []byte) (int, error) {
	c.mu.Lock()
	c.reads++
	c.mu.Unlock()
	return c.Conn.Read(b)
}

func (c *countingConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	c.writes++
	c.mu.Unlock()
	return c.Conn.Write(b)
}

func (c *countingConn) counts() (reads, writes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads, c.writes
}

// scriptedConn replays a fixed byte stream in small chunks and collects
// everything written to it.
type scriptedConn struct {
	data      []byte
	readPos   int
	chunkSize int
	written   bytes.Buffer
	closed    bool
}

func newScriptedConn(data []byte, chunkSize int) *scriptedConn {
	return &scriptedConn{data: data, chunkSize: chunkSize}
}

func (s *scriptedConn) Read(b []byte) (int, error) {
	if s.closed {
		return 0, io.EOF
	}
	remaining := len(s.data) - s.readPos
	if remaining == 0 {
		return 0, io.EOF
	}
	n := s.chunkSize
	if n > len(b) {
		n = len(b)
	}
	if n > remaining {
		n = remaining
	}
	n = copy(b, s.data[s.readPos:s.readPos+n])
	s.readPos += n
	return n, nil
}

func (s *scriptedConn) Write(b []byte) (int, error) { return s.written.Write(b) }
func (s *scriptedConn) Close() error                { s.closed = true; return nil }
func (s *scriptedConn) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 7777}
}
func (s *scriptedConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345}
}
func (s *scriptedConn) SetDeadline(time.Time) error      { return nil }
func (s *scriptedConn) SetReadDeadline(time.Time) error  { return nil }
func (s *scriptedConn) SetWriteDeadline(time.Time) error { return nil }

// sessionPair returns two sessions joined by an in-memory pipe.
func sessionPair(t *testing.T, stepTimeout time.Duration) (a, b *Session, ka, kb *crypto.KeyPair) {
	t.Helper()
	ca, cb := net.Pipe()
	t.Cleanup(func() {
		ca.Close()
		cb.Close()
	})
	ka, kb = newKeys(t), newKeys(t)
	return NewSession(ca, ka, stepTimeout), NewSession(cb, kb, stepTimeout), ka, kb
}

// tcpConnPair returns both ends of a loopback TCP connection. Unlike
// net.Pipe, writes are buffered, so both ends may write at the same time.
func tcpConnPair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server = <-accepted
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

// tcpSessionPair returns a client and a server side session over tcpConnPair.
func tcpSessionPair(t *testing.T, stepTimeout time.Duration) (client, server *Session) {
	t.Helper()
	clientConn, serverConn := tcpConnPair(t)
	client = NewSession(clientConn, newKeys(t), stepTimeout)
	server = NewSession(serverConn, newKeys(t), stepTimeout)
	server.SetSide(SideServer)
	return client, server
}

type receiveResult struct {
	msg string
	err error
}

// receiveAsync polls and receives once on s in the background.
func receiveAsync(s *Session) <-chan receiveResult {
	ch := make(chan receiveResult, 1)
	go func() {
		if _, err := s.Poll(0); err != nil {
			ch <- receiveResult{err: err}
			return
		}
		msg, err := s.Receive()
		ch <- receiveResult{msg: msg, err: err}
	}()
	return ch
}
