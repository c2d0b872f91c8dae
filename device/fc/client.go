// Package fc talks to an INAV flight controller over MSP.
//
// A Client owns one device connection: a read pump decoding frames from the
// link, a write pump serializing requests onto it, and a router handing each
// reply kind to a single-slot mailbox. Requests are correlated with replies
// by command code only, because MSP has no transaction identifier:
//
//   - Calls of the same kind are serialized by a per-kind lock, so two
//     concurrent FlashSummary calls cannot consume each other's reply.
//   - A reply that arrives after its request timed out stays in the mailbox
//     and may be consumed by the next call of that kind. Callers that retry
//     after ErrTimeout must tolerate this.
//   - At most one dataflash session may be open per connection.
package fc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kabili207/inav-msp-go/core/codec"
	"github.com/kabili207/inav-msp-go/core/msp"
	"github.com/kabili207/inav-msp-go/core/retry"
	"github.com/kabili207/inav-msp-go/device/pump"
	"github.com/kabili207/inav-msp-go/device/router"
	"github.com/kabili207/inav-msp-go/transport"
)

const (
	// DefaultRequestTimeout bounds the wait for a request's reply.
	DefaultRequestTimeout = 30 * time.Millisecond

	// DefaultChunkTimeout bounds the wait for one dataflash chunk before the
	// request is resent and the decoder resynchronized.
	DefaultChunkTimeout = 50 * time.Millisecond

	// DefaultChunkSize is the read window requested per dataflash chunk.
	DefaultChunkSize uint16 = 0x1000

	// DefaultBufferSize is the capacity of the inbound and outbound frame
	// channels.
	DefaultBufferSize = 1
)

var (
	// ErrTimeout means no matching reply arrived within the deadline.
	ErrTimeout = errors.New("timed out waiting for reply")
	// ErrDisconnected means the connection shut down while waiting.
	ErrDisconnected = errors.New("device disconnected")
	// ErrUseAfterClose means a dataflash session was used after it ended.
	ErrUseAfterClose = errors.New("use after close")
	// ErrSessionActive means another dataflash session is still open.
	ErrSessionActive = errors.New("dataflash session already open")
	// ErrNotConnected means the client has not been started.
	ErrNotConnected = errors.New("client not connected")
	// ErrFlashUnsupported means the device reports no dataflash chip.
	ErrFlashUnsupported = errors.New("dataflash not supported by device")
)

// DefaultChunkRetry resends a stalled chunk read forever, immediately.
var DefaultChunkRetry = retry.Unbounded(0)

// Config configures a Client.
type Config struct {
	// Link is the byte channel to the device. The client never closes it.
	Link transport.Link

	// RequestTimeout bounds the wait for a reply. Default: 30ms.
	RequestTimeout time.Duration

	// ChunkTimeout bounds the wait for a dataflash chunk. Default: 50ms.
	ChunkTimeout time.Duration

	// ChunkSize is the dataflash read window. Default: 4096.
	ChunkSize uint16

	// InboundBuffer and OutboundBuffer size the frame channels between the
	// pumps, router and requesters. Default: 1.
	InboundBuffer  int
	OutboundBuffer int

	// ReadBufferSize is the number of bytes requested per link read.
	// Default: 1000.
	ReadBufferSize int

	// WriteRetry governs transient write failures. Default: forever, 1ms apart.
	WriteRetry *retry.Policy

	// ChunkRetry governs chunk read timeouts. Default: forever, no delay.
	ChunkRetry *retry.Policy

	// StateHandler is called on every lifecycle transition, in order. It
	// must not call Start or Stop. May be nil.
	StateHandler transport.StateHandler

	// Logger for client events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Client is a running MSP connection.
type Client struct {
	cfg        Config
	log        *slog.Logger
	parser     *pump.LockedParser
	router     *router.Router
	chunkRetry retry.Policy

	pumpCounters    pump.Counters
	routerCounters  router.RouterCounters
	sessionCounters SessionCounters

	summaryLock    chan struct{}
	setModeLock    chan struct{}
	modeRangesLock chan struct{}

	// transitionMu orders state changes with their notifications.
	transitionMu sync.Mutex

	mu             sync.RWMutex
	state          transport.State
	runCtx         context.Context
	cancel         context.CancelFunc
	outbound       chan *codec.Frame
	outboundClosed bool
	wg             sync.WaitGroup
	done           chan struct{}

	sessionMu sync.Mutex
	session   *FlashSession
}

// New creates a client. Call Start to begin talking to the device.
func New(cfg Config) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = DefaultChunkTimeout
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.InboundBuffer <= 0 {
		cfg.InboundBuffer = DefaultBufferSize
	}
	if cfg.OutboundBuffer <= 0 {
		cfg.OutboundBuffer = DefaultBufferSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	chunkRetry := DefaultChunkRetry
	if cfg.ChunkRetry != nil {
		chunkRetry = *cfg.ChunkRetry
	}

	c := &Client{
		cfg:            cfg,
		log:            cfg.Logger.WithGroup("fc"),
		parser:         pump.NewLockedParser(),
		chunkRetry:     chunkRetry,
		summaryLock:    make(chan struct{}, 1),
		setModeLock:    make(chan struct{}, 1),
		modeRangesLock: make(chan struct{}, 1),
		done:           make(chan struct{}),
	}
	c.router = router.New(router.Config{
		Counters: &c.routerCounters,
		Logger:   cfg.Logger,
	})
	return c
}

// Start launches the read pump, write pump and router. The client runs
// until Stop is called, ctx is cancelled, or the link reports it is closed.
func (c *Client) Start(ctx context.Context) error {
	if c.cfg.Link == nil {
		return errors.New("link is required")
	}

	c.transitionMu.Lock()
	defer c.transitionMu.Unlock()

	c.mu.Lock()
	if c.state != transport.StateIdle {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("client already %s", state)
	}

	c.runCtx, c.cancel = context.WithCancel(ctx)
	inbound := make(chan *codec.Frame, c.cfg.InboundBuffer)
	c.outbound = make(chan *codec.Frame, c.cfg.OutboundBuffer)

	readPump := pump.NewReadPump(pump.ReadConfig{
		Link:       c.cfg.Link,
		Parser:     c.parser,
		Out:        inbound,
		BufferSize: c.cfg.ReadBufferSize,
		Counters:   &c.pumpCounters,
		Logger:     c.cfg.Logger,
	})
	writePump := pump.NewWritePump(pump.WriteConfig{
		Link:     c.cfg.Link,
		In:       c.outbound,
		Retry:    c.cfg.WriteRetry,
		Counters: &c.pumpCounters,
		Logger:   c.cfg.Logger,
	})

	runCtx := c.runCtx
	c.wg.Add(3)
	go func() {
		defer c.wg.Done()
		readPump.Run(runCtx)
		// The pump also stops when the link closes underneath us.
		c.shutdown()
	}()
	go func() {
		defer c.wg.Done()
		c.router.Run(inbound)
	}()
	go func() {
		defer c.wg.Done()
		writePump.Run(runCtx)
	}()
	go func() {
		c.wg.Wait()
		c.transition(transport.StateStopped)
		close(c.done)
	}()

	from := c.state
	c.state = transport.StateConnected
	c.mu.Unlock()

	c.notify(from, transport.StateConnected)
	c.log.Info("connection started")
	return nil
}

// Stop shuts the connection down and waits for every background goroutine
// to exit. Pending requests fail with ErrDisconnected.
func (c *Client) Stop() error {
	c.transitionMu.Lock()
	c.mu.Lock()
	switch c.state {
	case transport.StateIdle:
		c.state = transport.StateStopped
		close(c.done)
		c.mu.Unlock()
		c.notify(transport.StateIdle, transport.StateStopped)
		c.transitionMu.Unlock()
		return nil
	case transport.StateStopped:
		c.mu.Unlock()
		c.transitionMu.Unlock()
		return nil
	}
	c.mu.Unlock()
	c.transitionMu.Unlock()

	c.shutdown()
	<-c.done
	c.log.Info("connection stopped")
	return nil
}

// shutdown moves the client to Stopping and unwinds the pumps. It is safe
// to call more than once.
func (c *Client) shutdown() {
	c.transitionMu.Lock()
	defer c.transitionMu.Unlock()

	c.mu.RLock()
	cancel := c.cancel
	c.mu.RUnlock()

	// Cancel first so senders blocked under the read lock let go.
	if cancel != nil {
		cancel()
	}

	c.mu.Lock()
	from := c.state
	changed := from == transport.StateConnected
	if changed {
		c.state = transport.StateStopping
	}
	if c.outbound != nil && !c.outboundClosed {
		close(c.outbound)
		c.outboundClosed = true
	}
	c.mu.Unlock()

	if changed {
		c.notify(from, transport.StateStopping)
	}
}

func (c *Client) transition(to transport.State) {
	c.transitionMu.Lock()
	defer c.transitionMu.Unlock()

	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()
	if from != to {
		c.notify(from, to)
	}
}

func (c *Client) notify(from, to transport.State) {
	c.log.Debug("state change", "from", from.String(), "to", to.String())
	if c.cfg.StateHandler != nil {
		c.cfg.StateHandler(from, to)
	}
}

// State returns the connection's lifecycle state.
func (c *Client) State() transport.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Done is closed once the client has fully stopped.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// send queues a frame for the write pump.
func (c *Client) send(ctx context.Context, frame *codec.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch c.state {
	case transport.StateConnected:
	case transport.StateIdle:
		return ErrNotConnected
	default:
		return ErrDisconnected
	}
	select {
	case c.outbound <- frame:
		return nil
	case <-c.runCtx.Done():
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func acquire(ctx context.Context, lock chan struct{}) error {
	select {
	case lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func release(lock chan struct{}) {
	<-lock
}

// request sends frame and waits for the next value in box. The per-kind lock
// is held across both steps.
func request[T any](ctx context.Context, c *Client, lock chan struct{}, frame *codec.Frame, box *router.Mailbox[T]) (T, error) {
	var zero T
	if err := acquire(ctx, lock); err != nil {
		return zero, err
	}
	defer release(lock)

	if err := c.send(ctx, frame); err != nil {
		return zero, err
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case v, ok := <-box.C():
		if !ok {
			return zero, ErrDisconnected
		}
		return v, nil
	case <-timer.C:
		return zero, fmt.Errorf("%w: %s", ErrTimeout, msp.CommandName(frame.Cmd))
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// FlashSummary asks the device for its dataflash geometry and usage.
func (c *Client) FlashSummary(ctx context.Context) (msp.DataflashSummary, error) {
	frame := codec.NewRequest(msp.CmdDataflashSummary, nil)
	return request(ctx, c, c.summaryLock, frame, c.router.Summary())
}

// SetModeRange writes one mode activation range to the device.
func (c *Client) SetModeRange(ctx context.Context, r msp.ModeRange) error {
	frame := codec.NewRequest(msp.CmdSetModeRange, msp.MarshalSetModeRange(r))
	_, err := request(ctx, c, c.setModeLock, frame, c.router.SetModeRangeAck())
	return err
}

// GetModeRanges reads the device's mode range table and returns only the
// configured slots, in ascending index order.
func (c *Client) GetModeRanges(ctx context.Context) ([]msp.ModeRange, error) {
	frame := codec.NewRequest(msp.CmdModeRanges, nil)
	reply, err := request(ctx, c, c.modeRangesLock, frame, c.router.ModeRanges())
	if err != nil {
		return nil, err
	}
	return reply.Active(), nil
}

// Stats is a point-in-time view of the connection's counters.
type Stats struct {
	State   transport.State
	Pump    pump.CountersSnapshot
	Router  router.CountersSnapshot
	Session SessionCountersSnapshot
}

// Stats returns the connection's counters.
func (c *Client) Stats() Stats {
	return Stats{
		State:   c.State(),
		Pump:    c.pumpCounters.Snapshot(),
		Router:  c.routerCounters.Snapshot(),
		Session: c.sessionCounters.Snapshot(),
	}
}
