package router

import (
	"context"
	"errors"
	"sync"
)

// ErrMailboxClosed is returned by Receive after the router has shut down.
var ErrMailboxClosed = errors.New("mailbox closed")

// Mailbox is a single-slot handoff between the router and one waiting
// requester. It holds at most one unread value; a newer value replaces an
// unread older one so the router never blocks on a requester that gave up.
type Mailbox[T any] struct {
	ch chan T

	mu     sync.Mutex
	closed bool
}

// NewMailbox returns an empty mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{ch: make(chan T, 1)}
}

// Put delivers v, replacing any unread value. It reports whether a value was
// replaced. Put on a closed mailbox is a no-op.
func (m *Mailbox[T]) Put(v T) (replaced bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	for {
		select {
		case m.ch <- v:
			return replaced
		default:
		}
		select {
		case <-m.ch:
			replaced = true
		default:
		}
	}
}

// C returns the receive side. It is closed when the mailbox is closed.
func (m *Mailbox[T]) C() <-chan T {
	return m.ch
}

// Receive waits for a value. It returns ErrMailboxClosed once the mailbox is
// closed and drained, or ctx.Err() if ctx ends first.
func (m *Mailbox[T]) Receive(ctx context.Context) (T, error) {
	var zero T
	select {
	case v, ok := <-m.ch:
		if !ok {
			return zero, ErrMailboxClosed
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close closes the mailbox. An unread value remains receivable.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.ch)
}
