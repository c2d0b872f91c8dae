package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailbox_PutReceive(t *testing.T) {
	m := NewMailbox[int]()
	assert.False(t, m.Put(1))

	v, err := m.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestMailbox_NewerReplacesUnread(t *testing.T) {
	m := NewMailbox[int]()
	assert.False(t, m.Put(1))
	assert.True(t, m.Put(2))
	assert.True(t, m.Put(3))

	v, err := m.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	select {
	case v := <-m.C():
		t.Fatalf("mailbox should be empty, got %d", v)
	default:
	}
}

func TestMailbox_ReceiveHonoursContext(t *testing.T) {
	m := NewMailbox[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := m.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMailbox_Close(t *testing.T) {
	m := NewMailbox[int]()
	m.Put(7)
	m.Close()
	m.Close()
	assert.False(t, m.Put(8), "put after close is a no-op")

	v, err := m.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v, "unread value survives close")

	_, err = m.Receive(context.Background())
	assert.ErrorIs(t, err, ErrMailboxClosed)
}

func TestMailbox_CloseWakesReceiver(t *testing.T) {
	m := NewMailbox[int]()
	errc := make(chan error, 1)
	go func() {
		_, err := m.Receive(context.Background())
		errc <- err
	}()

	time.Sleep(5 * time.Millisecond)
	m.Close()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrMailboxClosed)
	case <-time.After(time.Second):
		t.Fatal("receiver not woken by close")
	}
}
