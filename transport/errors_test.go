package transport

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassifyIOError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"deadline", os.ErrDeadlineExceeded, ErrTimeout},
		{"net timeout", timeoutError{}, ErrTimeout},
		{"eof", io.EOF, ErrPeerClosed},
		{"short read", io.ErrUnexpectedEOF, ErrPeerClosed},
		{"closed pipe", io.ErrClosedPipe, ErrPeerClosed},
		{"closed conn", net.ErrClosed, ErrPeerClosed},
		{"reset", &net.OpError{Op: "read", Net: "tcp", Err: os.NewSyscallError("read", syscall.ECONNRESET)}, ErrPeerClosed},
		{"broken pipe", &net.OpError{Op: "write", Net: "tcp", Err: os.NewSyscallError("write", syscall.EPIPE)}, ErrPeerClosed},
		{"other", errors.New("network unreachable"), ErrConnection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyIOError(tt.err)
			assert.ErrorIs(t, got, tt.want)
			assert.Contains(t, got.Error(), tt.err.Error())
		})
	}
}

func TestOpError(t *testing.T) {
	err := newOpError("dial", "10.0.0.1:4000", ErrConnection)
	assert.Equal(t, "murmur dial 10.0.0.1:4000: connection failed", err.Error())
	assert.ErrorIs(t, err, ErrConnection)

	bare := newOpError("resolve", "", ErrResolution)
	assert.Equal(t, "murmur resolve: address resolution failed", bare.Error())
}

func TestSentinelsAreDistinct(t *testing.T) {
	all := []error{ErrResolution, ErrConnection, ErrTimeout, ErrPeerClosed}
	for i, a := range all {
		for j, b := range all {
			if i != j {
				assert.False(t, errors.Is(a, b), "%v must not match %v", a, b)
			}
		}
	}
}
