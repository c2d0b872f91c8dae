// Package transport provides the byte links used to reach a flight
// controller and the connection state types shared with the client.
package transport

import (
	"errors"
	"io"
	"net"
	"os"
)

var (
	// ErrTimeout is returned by Link reads and writes that did not complete
	// within the link's deadline. It is transient: the caller should yield
	// and try again.
	ErrTimeout = errors.New("link timeout")
	// ErrClosed is returned by operations on a closed link.
	ErrClosed = errors.New("link closed")
)

// Link is a duplex byte channel to the device. One goroutine may read while
// another writes; the read and write halves are independent.
type Link interface {
	// Read reads up to len(p) bytes. It returns an error wrapping ErrTimeout
	// when no data arrived within the link's read timeout.
	Read(p []byte) (int, error)
	// Write writes all of p or returns an error. An error wrapping
	// ErrTimeout means the peer could not accept the data yet.
	Write(p []byte) (int, error)
	// Close releases the link. Blocked reads and writes return.
	Close() error
}

var _ io.ReadWriteCloser = Link(nil)

// IsTimeout reports whether err is a timeout-class link error.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// State is the lifecycle of a device connection.
type State int32

const (
	// StateIdle means the connection has not been started.
	StateIdle State = iota
	// StateConnected means the pumps and router are running.
	StateConnected
	// StateStopping means shutdown has begun and new requests are refused.
	StateStopping
	// StateStopped means every background goroutine has exited.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// StateHandler is called when a connection changes state.
type StateHandler func(from, to State)
