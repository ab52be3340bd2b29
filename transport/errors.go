package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// Common errors for relay transport
var (
	// ErrResolution indicates the host name could not be resolved
	ErrResolution = errors.New("address resolution failed")

	// ErrConnection indicates a listen, accept or connect failure
	ErrConnection = errors.New("connection failed")

	// ErrTimeout indicates an exchange step did not complete within the step timeout
	ErrTimeout = errors.New("operation timed out")

	// ErrPeerClosed indicates the remote end closed the connection
	ErrPeerClosed = errors.New("peer closed connection")
)

// OpError represents a transport error with additional context
type OpError struct {
	Op   string // operation that caused the error
	Addr string // remote address if relevant
	Err  error  // underlying error
}

func (e *OpError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("murmur %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("murmur %s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// newOpError creates a new OpError
func newOpError(op, addr string, err error) *OpError {
	return &OpError{
		Op:   op,
		Addr: addr,
		Err:  err,
	}
}

// classifyIOError maps a raw connection error onto ErrTimeout, ErrPeerClosed
// or ErrConnection, keeping the original error text.
func classifyIOError(err error) error {
	switch {
	case isTimeout(err):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return fmt.Errorf("%w: %v", ErrPeerClosed, err)
	default:
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
