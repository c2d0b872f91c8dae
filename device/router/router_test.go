package router

import (
	"context"
	"testing"
	"time"

	"github.com/kabili207/inav-msp-go/core/codec"
	"github.com/kabili207/inav-msp-go/core/msp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fromDevice(cmd uint16, payload []byte) *codec.Frame {
	return &codec.Frame{Cmd: cmd, Direction: codec.DirectionFromDevice, Payload: payload}
}

func mustMarshal(t *testing.T, v interface{ MarshalBinary() ([]byte, error) }) []byte {
	t.Helper()
	buf, err := v.MarshalBinary()
	require.NoError(t, err)
	return buf
}

func receive[T any](t *testing.T, m *Mailbox[T]) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := m.Receive(ctx)
	require.NoError(t, err)
	return v
}

func assertEmpty[T any](t *testing.T, m *Mailbox[T]) {
	t.Helper()
	select {
	case <-m.C():
		t.Fatal("mailbox should be empty")
	default:
	}
}

func TestHandleFrame_ModeRanges(t *testing.T) {
	r := New(Config{})

	var table msp.ModeRangesReply
	table.Slots[3] = msp.ModeRangeEntry{BoxID: 1, StartStep: 10, EndStep: 20}
	r.HandleFrame(fromDevice(msp.CmdModeRanges, mustMarshal(t, &table)))

	got := receive(t, r.ModeRanges())
	assert.Equal(t, table, got)
	assert.Equal(t, uint64(1), r.Counters().FramesRouted.Load())
}

func TestHandleFrame_SetModeRangeAck(t *testing.T) {
	r := New(Config{})
	r.HandleFrame(fromDevice(msp.CmdSetModeRange, nil))
	receive(t, r.SetModeRangeAck())
}

func TestHandleFrame_Summary(t *testing.T) {
	r := New(Config{})
	want := msp.DataflashSummary{Supported: true, Ready: true, Sectors: 64, TotalSizeBytes: 1 << 20, UsedSizeBytes: 5000}
	r.HandleFrame(fromDevice(msp.CmdDataflashSummary, mustMarshal(t, want)))

	assert.Equal(t, want, receive(t, r.Summary()))
}

func TestHandleFrame_Chunk(t *testing.T) {
	r := New(Config{})
	r.HandleFrame(fromDevice(msp.CmdDataflashRead, []byte{0x00, 0x10, 0x00, 0x00, 0xAA, 0xBB}))

	chunk := receive(t, r.Chunks())
	assert.Equal(t, uint32(4096), chunk.Address)
	assert.Equal(t, []byte{0xAA, 0xBB}, chunk.Payload)
}

func TestHandleFrame_Drops(t *testing.T) {
	tests := []struct {
		name    string
		frame   *codec.Frame
		counter func(CountersSnapshot) uint64
	}{
		{
			name:    "request direction",
			frame:   codec.NewRequest(msp.CmdDataflashSummary, make([]byte, msp.DataflashSummarySize)),
			counter: func(s CountersSnapshot) uint64 { return s.FramesIgnored },
		},
		{
			name:    "error reply",
			frame:   &codec.Frame{Cmd: msp.CmdDataflashRead, Direction: codec.DirectionError},
			counter: func(s CountersSnapshot) uint64 { return s.ErrorReplies },
		},
		{
			name:    "unknown command",
			frame:   fromDevice(101, []byte{1, 2, 3}),
			counter: func(s CountersSnapshot) uint64 { return s.UnknownCommands },
		},
		{
			name:    "short summary",
			frame:   fromDevice(msp.CmdDataflashSummary, []byte{1, 2}),
			counter: func(s CountersSnapshot) uint64 { return s.DecodeErrors },
		},
		{
			name:    "short chunk",
			frame:   fromDevice(msp.CmdDataflashRead, []byte{1}),
			counter: func(s CountersSnapshot) uint64 { return s.DecodeErrors },
		},
		{
			name:    "short mode table",
			frame:   fromDevice(msp.CmdModeRanges, make([]byte, 12)),
			counter: func(s CountersSnapshot) uint64 { return s.DecodeErrors },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(Config{})
			r.HandleFrame(tt.frame)

			snap := r.Counters().Snapshot()
			assert.Equal(t, uint64(1), tt.counter(snap))
			assert.Equal(t, uint64(0), snap.FramesRouted)
			assertEmpty(t, r.ModeRanges())
			assertEmpty(t, r.SetModeRangeAck())
			assertEmpty(t, r.Summary())
			assertEmpty(t, r.Chunks())
		})
	}
}

func TestHandleFrame_StaleReplyReplaced(t *testing.T) {
	r := New(Config{})
	r.HandleFrame(fromDevice(msp.CmdDataflashRead, []byte{0, 0, 0, 0, 1}))
	r.HandleFrame(fromDevice(msp.CmdDataflashRead, []byte{1, 0, 0, 0, 2}))

	chunk := receive(t, r.Chunks())
	assert.Equal(t, uint32(1), chunk.Address)
	assert.Equal(t, uint64(1), r.Counters().StaleReplaced.Load())
}

func TestRun_ClosesMailboxesWhenInputCloses(t *testing.T) {
	r := New(Config{})
	in := make(chan *codec.Frame, 2)
	in <- fromDevice(msp.CmdSetModeRange, nil)
	close(in)

	done := make(chan struct{})
	go func() {
		r.Run(in)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("router did not exit")
	}

	receive(t, r.SetModeRangeAck())
	_, err := r.Chunks().Receive(context.Background())
	assert.ErrorIs(t, err, ErrMailboxClosed)
	_, err = r.Summary().Receive(context.Background())
	assert.ErrorIs(t, err, ErrMailboxClosed)
}

func TestRun_PreservesArrivalOrder(t *testing.T) {
	r := New(Config{})
	in := make(chan *codec.Frame)

	go r.Run(in)

	for addr := byte(0); addr < 5; addr++ {
		in <- fromDevice(msp.CmdDataflashRead, []byte{addr, 0, 0, 0})
		chunk := receive(t, r.Chunks())
		assert.Equal(t, uint32(addr), chunk.Address)
	}
	close(in)
}

func TestCounters_Reset(t *testing.T) {
	var c RouterCounters
	c.FramesRouted.Add(3)
	c.DecodeErrors.Add(1)
	c.Reset()
	assert.Equal(t, CountersSnapshot{}, c.Snapshot())
}
