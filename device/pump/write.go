package pump

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/kabili207/inav-msp-go/core/codec"
	"github.com/kabili207/inav-msp-go/core/retry"
	"github.com/kabili207/inav-msp-go/transport"
)

// DefaultWriteRetryDelay is the pause between writes while the device's
// receive buffer is full.
const DefaultWriteRetryDelay = time.Millisecond

// DefaultWriteRetry retries transient write failures forever. Frames are
// never dropped for back-pressure.
var DefaultWriteRetry = retry.Unbounded(DefaultWriteRetryDelay)

// WriteConfig configures a WritePump.
type WriteConfig struct {
	// Link is the write half of the connection.
	Link io.Writer
	// In is the outbound frame queue. Run returns once it is closed.
	In <-chan *codec.Frame
	// Retry governs transient (timeout-class) write failures.
	// Default: unbounded with a 1ms delay.
	Retry *retry.Policy
	// Counters receives statistics. May be nil.
	Counters *Counters
	// Logger for pump events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// WritePump serializes and writes outbound frames.
type WritePump struct {
	cfg      WriteConfig
	policy   retry.Policy
	log      *slog.Logger
	counters *Counters
}

// NewWritePump creates a write pump with the given configuration.
func NewWritePump(cfg WriteConfig) *WritePump {
	policy := DefaultWriteRetry
	if cfg.Retry != nil {
		policy = *cfg.Retry
	}
	counters := cfg.Counters
	if counters == nil {
		counters = &Counters{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WritePump{
		cfg:      cfg,
		policy:   policy,
		log:      logger.WithGroup("writepump"),
		counters: counters,
	}
}

// Run writes queued frames in order until In is closed or ctx is cancelled.
func (p *WritePump) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-p.cfg.In:
			if !ok {
				return
			}
			p.write(ctx, frame)
		}
	}
}

// write sends one frame. Timeout-class errors are retried per the policy,
// resuming after any bytes already accepted; other errors drop the frame.
func (p *WritePump) write(ctx context.Context, frame *codec.Frame) {
	buf, err := codec.Encode(frame)
	if err != nil {
		p.counters.WriteErrors.Add(1)
		p.log.Error("failed to encode frame", "frame", frame.String(), "error", err)
		return
	}

	off := 0
	attempt := 0
	for {
		n, err := p.cfg.Link.Write(buf[off:])
		off += n
		if n > 0 {
			p.counters.BytesWritten.Add(uint64(n))
		}
		if err == nil && off >= len(buf) {
			p.counters.FramesWritten.Add(1)
			return
		}

		if err != nil && !transport.IsTimeout(err) {
			p.counters.WriteErrors.Add(1)
			p.log.Error("failed to write frame", "frame", frame.String(), "error", err)
			return
		}

		// Device busy or short write: wait and retry the remainder.
		attempt++
		p.counters.WriteRetries.Add(1)
		if werr := p.policy.Wait(ctx, attempt); werr != nil {
			p.counters.WriteErrors.Add(1)
			p.log.Warn("giving up on frame", "frame", frame.String(), "attempts", attempt, "error", werr)
			return
		}
	}
}
