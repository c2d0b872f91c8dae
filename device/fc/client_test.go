package fc

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kabili207/inav-msp-go/core/codec"
	"github.com/kabili207/inav-msp-go/core/msp"
	"github.com/kabili207/inav-msp-go/internal/fctest"
	"github.com/kabili207/inav-msp-go/transport"
)

func startClient(t *testing.T, dev *fctest.Device, cfg Config) *Client {
	t.Helper()
	cfg.Link = dev
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 500 * time.Millisecond
	}
	c := New(cfg)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop() })
	return c
}

func silent(*fctest.Device, *codec.Frame) []byte { return nil }

func makeFlash(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + 3)
	}
	return b
}

func TestFlashSummary(t *testing.T) {
	dev := fctest.New(fctest.Config{Flash: makeFlash(5000), FlashCapacity: 1 << 20})
	c := startClient(t, dev, Config{})

	summary, err := c.FlashSummary(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Supported)
	assert.True(t, summary.Ready)
	assert.Equal(t, uint32(5000), summary.UsedSizeBytes)
	assert.Equal(t, uint32(1<<20), summary.TotalSizeBytes)
}

func TestRequests_TimeOut(t *testing.T) {
	tests := []struct {
		name string
		call func(c *Client) error
	}{
		{"summary", func(c *Client) error {
			_, err := c.FlashSummary(context.Background())
			return err
		}},
		{"set mode range", func(c *Client) error {
			return c.SetModeRange(context.Background(), msp.ModeRange{Index: 1})
		}},
		{"mode ranges", func(c *Client) error {
			_, err := c.GetModeRanges(context.Background())
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := fctest.New(fctest.Config{})
			dev.SetHandler(silent)
			c := startClient(t, dev, Config{RequestTimeout: DefaultRequestTimeout})

			start := time.Now()
			err := tt.call(c)
			elapsed := time.Since(start)

			require.ErrorIs(t, err, ErrTimeout)
			assert.GreaterOrEqual(t, elapsed, DefaultRequestTimeout)
			assert.Less(t, elapsed, time.Second)
		})
	}
}

func TestFlashSummary_BadChecksumDropped(t *testing.T) {
	dev := fctest.New(fctest.Config{Flash: makeFlash(100)})
	var corrupted atomic.Bool
	dev.SetHandler(func(d *fctest.Device, req *codec.Frame) []byte {
		if req.Cmd == msp.CmdDataflashSummary && corrupted.CompareAndSwap(false, true) {
			return fctest.Corrupt(d.Reply(req))
		}
		return d.Reply(req)
	})
	c := startClient(t, dev, Config{RequestTimeout: DefaultRequestTimeout})

	_, err := c.FlashSummary(context.Background())
	require.ErrorIs(t, err, ErrTimeout)
	require.Eventually(t, func() bool {
		return c.Stats().Pump.ChecksumErrors == 1
	}, time.Second, time.Millisecond)

	summary, err := c.FlashSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(100), summary.UsedSizeBytes)
	assert.Zero(t, c.Stats().Router.StaleReplaced)
}

func TestGetModeRanges_ReturnsConfiguredSlots(t *testing.T) {
	var table [msp.ModeRangeSlots]msp.ModeRangeEntry
	table[3] = msp.ModeRangeEntry{BoxID: 1, AuxChannelIndex: 0, StartStep: 32, EndStep: 48}
	table[7] = msp.ModeRangeEntry{BoxID: 2, AuxChannelIndex: 1, StartStep: 0, EndStep: 12}
	dev := fctest.New(fctest.Config{ModeRanges: table})
	c := startClient(t, dev, Config{})

	ranges, err := c.GetModeRanges(context.Background())
	require.NoError(t, err)
	require.Len(t, ranges, 2)
	assert.Equal(t, msp.ModeRange{Index: 3, BoxID: 1, AuxChannelIndex: 0, StartStep: 32, EndStep: 48}, ranges[0])
	assert.Equal(t, msp.ModeRange{Index: 7, BoxID: 2, AuxChannelIndex: 1, StartStep: 0, EndStep: 12}, ranges[1])
}

func TestSetModeRange_Acknowledged(t *testing.T) {
	dev := fctest.New(fctest.Config{})
	c := startClient(t, dev, Config{})

	r := msp.ModeRange{Index: 5, BoxID: 11, AuxChannelIndex: 2, StartStep: 20, EndStep: 40}
	require.NoError(t, c.SetModeRange(context.Background(), r))
	assert.Equal(t, r.Entry(), dev.ModeTable()[5])

	ranges, err := c.GetModeRanges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []msp.ModeRange{r}, ranges)
}

func TestSetModeRange_RejectedTimesOut(t *testing.T) {
	dev := fctest.New(fctest.Config{})
	c := startClient(t, dev, Config{RequestTimeout: DefaultRequestTimeout})

	// The device answers an out-of-range slot with an error reply, which is
	// never delivered as an acknowledgement.
	err := c.SetModeRange(context.Background(), msp.ModeRange{Index: msp.ModeRangeSlots})
	require.ErrorIs(t, err, ErrTimeout)

	require.Eventually(t, func() bool {
		return c.Stats().Router.ErrorReplies == 1
	}, time.Second, time.Millisecond)
}

func TestConcurrentRequests_Serialized(t *testing.T) {
	dev := fctest.New(fctest.Config{Flash: makeFlash(100)})
	dev.SetDelay(2 * time.Millisecond)
	c := startClient(t, dev, Config{})

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			summary, err := c.FlashSummary(context.Background())
			if err == nil && summary.UsedSizeBytes != 100 {
				t.Errorf("unexpected summary %+v", summary)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Len(t, dev.RequestsFor(msp.CmdDataflashSummary), callers)
	assert.Zero(t, c.Stats().Router.StaleReplaced)
}

func TestRequest_ContextCancelled(t *testing.T) {
	dev := fctest.New(fctest.Config{})
	dev.SetHandler(silent)
	c := startClient(t, dev, Config{RequestTimeout: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.FlashSummary(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRequest_BeforeStart(t *testing.T) {
	c := New(Config{Link: fctest.New(fctest.Config{})})

	_, err := c.FlashSummary(context.Background())
	require.ErrorIs(t, err, ErrNotConnected)
}

func TestStart_Twice(t *testing.T) {
	c := startClient(t, fctest.New(fctest.Config{}), Config{})
	require.Error(t, c.Start(context.Background()))
}

func TestStart_RequiresLink(t *testing.T) {
	c := New(Config{})
	require.Error(t, c.Start(context.Background()))
}

func TestStop_PendingRequestDisconnected(t *testing.T) {
	dev := fctest.New(fctest.Config{})
	dev.SetHandler(silent)
	c := startClient(t, dev, Config{RequestTimeout: 5 * time.Second})

	result := make(chan error, 1)
	go func() {
		_, err := c.GetModeRanges(context.Background())
		result <- err
	}()

	require.Eventually(t, func() bool {
		return len(dev.RequestsFor(msp.CmdModeRanges)) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, c.Stop())

	select {
	case err := <-result:
		require.ErrorIs(t, err, ErrDisconnected)
	case <-time.After(time.Second):
		t.Fatal("request did not unwind")
	}
	assert.Equal(t, transport.StateStopped, c.State())

	_, err := c.GetModeRanges(context.Background())
	require.ErrorIs(t, err, ErrDisconnected)
}

func TestLinkClosed_StopsClient(t *testing.T) {
	dev := fctest.New(fctest.Config{})
	c := startClient(t, dev, Config{})

	require.NoError(t, dev.Close())

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("client did not stop after the link closed")
	}
	assert.Equal(t, transport.StateStopped, c.State())

	ctx := context.Background()
	_, err := c.FlashSummary(ctx)
	require.ErrorIs(t, err, ErrDisconnected)
	require.ErrorIs(t, c.SetModeRange(ctx, msp.ModeRange{Index: 1}), ErrDisconnected)
	_, err = c.GetModeRanges(ctx)
	require.ErrorIs(t, err, ErrDisconnected)
	_, err = c.OpenFlashData(ctx)
	require.ErrorIs(t, err, ErrDisconnected)
}

func TestLifecycle_StateTransitions(t *testing.T) {
	type change struct{ from, to transport.State }
	var (
		mu      sync.Mutex
		changes []change
	)
	handler := func(from, to transport.State) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, change{from, to})
	}

	c := New(Config{Link: fctest.New(fctest.Config{}), StateHandler: handler})
	assert.Equal(t, transport.StateIdle, c.State())

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, transport.StateConnected, c.State())

	require.NoError(t, c.Stop())
	assert.Equal(t, transport.StateStopped, c.State())
	require.NoError(t, c.Stop())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []change{
		{transport.StateIdle, transport.StateConnected},
		{transport.StateConnected, transport.StateStopping},
		{transport.StateStopping, transport.StateStopped},
	}, changes)
}

func TestStop_BeforeStart(t *testing.T) {
	c := New(Config{Link: fctest.New(fctest.Config{})})
	require.NoError(t, c.Stop())
	assert.Equal(t, transport.StateStopped, c.State())

	select {
	case <-c.Done():
	default:
		t.Fatal("done not closed")
	}
	require.Error(t, c.Start(context.Background()))
}
