package fc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kabili207/inav-msp-go/core/codec"
	"github.com/kabili207/inav-msp-go/core/msp"
	"github.com/kabili207/inav-msp-go/core/retry"
)

// SessionCounters tracks dataflash streaming statistics.
// All fields are safe for concurrent access.
type SessionCounters struct {
	SessionsOpened atomic.Uint64 // Sessions handed out by OpenFlashData
	ChunkRequests  atomic.Uint64 // Chunk read requests sent
	ChunksReceived atomic.Uint64 // Chunks accepted in order
	StaleChunks    atomic.Uint64 // Chunks discarded as already consumed
	ChunkTimeouts  atomic.Uint64 // Chunk waits that expired
	BytesStreamed  atomic.Uint64 // Payload bytes returned to callers
}

// SessionCountersSnapshot is a plain-value copy of SessionCounters.
type SessionCountersSnapshot struct {
	SessionsOpened uint64
	ChunkRequests  uint64
	ChunksReceived uint64
	StaleChunks    uint64
	ChunkTimeouts  uint64
	BytesStreamed  uint64
}

// Snapshot returns a point-in-time copy of all counters.
func (c *SessionCounters) Snapshot() SessionCountersSnapshot {
	return SessionCountersSnapshot{
		SessionsOpened: c.SessionsOpened.Load(),
		ChunkRequests:  c.ChunkRequests.Load(),
		ChunksReceived: c.ChunksReceived.Load(),
		StaleChunks:    c.StaleChunks.Load(),
		ChunkTimeouts:  c.ChunkTimeouts.Load(),
		BytesStreamed:  c.BytesStreamed.Load(),
	}
}

// FlashSession streams the used portion of the device's dataflash in
// chunks. ReadChunk calls must not overlap; Close may be called from any
// goroutine.
type FlashSession struct {
	client  *Client
	log     *slog.Logger
	summary msp.DataflashSummary
	retry   retry.Policy

	mu       sync.Mutex
	received uint32 // address of the last accepted chunk
	next     uint32 // address the following request will ask for
	closed   bool

	abort     chan struct{}
	abortOnce sync.Once
}

// OpenFlashData fetches the dataflash summary and opens a streaming session
// over its used region. Only one session may be open per connection.
func (c *Client) OpenFlashData(ctx context.Context) (*FlashSession, error) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if c.session != nil {
		return nil, ErrSessionActive
	}

	summary, err := c.FlashSummary(ctx)
	if err != nil {
		return nil, fmt.Errorf("dataflash summary: %w", err)
	}
	if !summary.Supported {
		return nil, ErrFlashUnsupported
	}

	// Anything already in the chunk mailbox answers a request this session
	// never made.
	chunks := c.router.Chunks()
	select {
	case _, ok := <-chunks.C():
		if !ok {
			return nil, ErrDisconnected
		}
	default:
	}

	s := &FlashSession{
		client:  c,
		log:     c.log.With("used", summary.UsedSizeBytes),
		summary: summary,
		retry:   c.chunkRetry,
		abort:   make(chan struct{}),
	}
	c.session = s
	c.sessionCounters.SessionsOpened.Add(1)
	s.log.Debug("dataflash session opened", "ready", summary.Ready, "total", summary.TotalSizeBytes)
	return s, nil
}

func (c *Client) releaseSession(s *FlashSession) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	if c.session == s {
		c.session = nil
	}
}

// Summary returns the dataflash summary the session was opened with.
func (s *FlashSession) Summary() msp.DataflashSummary {
	return s.summary
}

// Size returns the number of bytes the session will stream.
func (s *FlashSession) Size() uint32 {
	return s.summary.UsedSizeBytes
}

// Offset returns the address the next chunk will be read from.
func (s *FlashSession) Offset() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// ReadChunk returns the next chunk of dataflash contents. An empty, non-nil
// slice marks the end of the used region and ends the session; any later
// call fails with ErrUseAfterClose.
//
// A chunk that does not arrive within the chunk timeout is requested again
// after the decoder is resynchronized. Replies for addresses already
// consumed are discarded without a new request.
func (s *FlashSession) ReadChunk(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.aborted() || s.received >= s.summary.UsedSizeBytes {
		s.finish()
		return nil, ErrUseAfterClose
	}

	c := s.client
	chunks := c.router.Chunks()
	resend := s.next == 0 || s.next > s.received
	attempt := 0

	for {
		if s.aborted() {
			s.finish()
			return nil, ErrUseAfterClose
		}
		if resend {
			if err := s.request(ctx); err != nil {
				return nil, err
			}
		}

		chunk, err := s.await(ctx, chunks.C())
		switch {
		case errors.Is(err, ErrUseAfterClose):
			s.finish()
			return nil, err
		case errors.Is(err, ErrTimeout):
			attempt++
			c.sessionCounters.ChunkTimeouts.Add(1)
			c.parser.Reset()
			c.pumpCounters.Resyncs.Add(1)
			s.log.Debug("chunk timed out, resending", "address", s.next, "attempt", attempt)
			if err := s.retry.Wait(ctx, attempt); err != nil {
				if errors.Is(err, retry.ErrExhausted) {
					return nil, fmt.Errorf("%w: dataflash read at %d", ErrTimeout, s.next)
				}
				return nil, err
			}
			resend = true
			continue
		case err != nil:
			return nil, err
		}

		if chunk.Address < s.next {
			c.sessionCounters.StaleChunks.Add(1)
			s.log.Debug("discarding stale chunk", "address", chunk.Address, "want", s.next)
			resend = false
			continue
		}

		c.sessionCounters.ChunksReceived.Add(1)
		s.received = chunk.Address
		s.next = chunk.End()

		if s.received >= s.summary.UsedSizeBytes {
			s.finish()
			return []byte{}, nil
		}
		c.sessionCounters.BytesStreamed.Add(uint64(len(chunk.Payload)))
		return chunk.Payload, nil
	}
}

func (s *FlashSession) request(ctx context.Context) error {
	req := msp.DataflashRead{Address: s.next, Length: s.client.cfg.ChunkSize}
	payload, err := req.MarshalBinary()
	if err != nil {
		return err
	}
	if err := s.client.send(ctx, codec.NewRequest(msp.CmdDataflashRead, payload)); err != nil {
		return err
	}
	s.client.sessionCounters.ChunkRequests.Add(1)
	return nil
}

func (s *FlashSession) await(ctx context.Context, ch <-chan msp.DataflashChunk) (msp.DataflashChunk, error) {
	timer := time.NewTimer(s.client.cfg.ChunkTimeout)
	defer timer.Stop()

	select {
	case chunk, ok := <-ch:
		if !ok {
			return msp.DataflashChunk{}, ErrDisconnected
		}
		return chunk, nil
	case <-timer.C:
		return msp.DataflashChunk{}, ErrTimeout
	case <-s.abort:
		return msp.DataflashChunk{}, ErrUseAfterClose
	case <-ctx.Done():
		return msp.DataflashChunk{}, ctx.Err()
	}
}

func (s *FlashSession) aborted() bool {
	select {
	case <-s.abort:
		return true
	default:
		return false
	}
}

func (s *FlashSession) finish() {
	if s.closed {
		return
	}
	s.closed = true
	s.client.releaseSession(s)
	s.log.Debug("dataflash session finished")
}

// Close ends the session early and frees the connection's session slot.
// A ReadChunk blocked in another goroutine returns ErrUseAfterClose. It is
// safe to call more than once.
func (s *FlashSession) Close() error {
	s.abortOnce.Do(func() {
		close(s.abort)
		s.client.releaseSession(s)
		s.log.Debug("dataflash session closed")
	})
	return nil
}

// Reader adapts the session to io.Reader. Reads block on ctx; the end of
// the used region is reported as io.EOF.
func (s *FlashSession) Reader(ctx context.Context) io.Reader {
	return &sessionReader{ctx: ctx, s: s}
}

type sessionReader struct {
	ctx     context.Context
	s       *FlashSession
	pending []byte
	eof     bool
}

func (r *sessionReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(r.pending) == 0 {
		if r.eof {
			return 0, io.EOF
		}
		chunk, err := r.s.ReadChunk(r.ctx)
		switch {
		case errors.Is(err, ErrUseAfterClose):
			r.eof = true
		case err != nil:
			return 0, err
		case len(chunk) == 0:
			r.eof = true
		default:
			r.pending = chunk
		}
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}
