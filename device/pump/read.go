// Package pump moves bytes between a transport.Link and the frame channels.
//
// The read pump owns the read half of the link: it feeds every byte through
// the connection's LockedParser and forwards decoded frames downstream. The
// write pump owns the write half: it serializes queued frames and writes
// them in strict FIFO order, retrying transient failures according to a
// retry.Policy because the link has no flow control.
package pump

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime"
	"time"

	"github.com/kabili207/inav-msp-go/core/codec"
	"github.com/kabili207/inav-msp-go/transport"
)

const (
	// DefaultReadBufferSize is the number of bytes requested per link read.
	DefaultReadBufferSize = 1000

	// DefaultErrorDelay is the pause after a non-timeout read error.
	DefaultErrorDelay = 10 * time.Millisecond
)

// ReadConfig configures a ReadPump.
type ReadConfig struct {
	// Link is the read half of the connection.
	Link io.Reader
	// Parser is the connection's shared decoder.
	Parser *LockedParser
	// Out receives decoded frames. The pump closes it when Run returns.
	Out chan<- *codec.Frame
	// BufferSize is the number of bytes requested per read. Default: 1000.
	BufferSize int
	// ErrorDelay is the pause after a non-timeout read error so a failing
	// link does not flood the log. Default: 10ms.
	ErrorDelay time.Duration
	// Counters receives statistics. May be nil.
	Counters *Counters
	// Logger for pump events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// ReadPump reads the link and decodes frames.
type ReadPump struct {
	cfg      ReadConfig
	log      *slog.Logger
	counters *Counters
}

// NewReadPump creates a read pump with the given configuration.
func NewReadPump(cfg ReadConfig) *ReadPump {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultReadBufferSize
	}
	if cfg.ErrorDelay <= 0 {
		cfg.ErrorDelay = DefaultErrorDelay
	}
	if cfg.Parser == nil {
		cfg.Parser = NewLockedParser()
	}
	counters := cfg.Counters
	if counters == nil {
		counters = &Counters{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ReadPump{
		cfg:      cfg,
		log:      logger.WithGroup("readpump"),
		counters: counters,
	}
}

// Run reads until ctx is cancelled or the link reports it is closed. Out is
// closed on return so downstream consumers unwind.
func (p *ReadPump) Run(ctx context.Context) {
	defer close(p.cfg.Out)

	buf := make([]byte, p.cfg.BufferSize)
	for {
		if ctx.Err() != nil {
			return
		}

		n, err := p.cfg.Link.Read(buf)
		if n > 0 {
			p.counters.BytesRead.Add(uint64(n))
			if !p.decode(ctx, buf[:n]) {
				return
			}
		}

		switch {
		case err == nil:
		case transport.IsTimeout(err):
			p.counters.ReadTimeouts.Add(1)
			runtime.Gosched()
		case errors.Is(err, transport.ErrClosed), errors.Is(err, io.EOF):
			if ctx.Err() == nil {
				p.log.Info("link closed, stopping read pump", "error", err)
			}
			return
		default:
			p.counters.ReadErrors.Add(1)
			p.log.Warn("link read error", "error", err)
			if !sleep(ctx, p.cfg.ErrorDelay) {
				return
			}
		}
	}
}

// decode feeds data through the parser and forwards complete frames. It
// returns false if ctx ended while blocked on a full Out channel.
func (p *ReadPump) decode(ctx context.Context, data []byte) bool {
	for _, b := range data {
		frame, err := p.cfg.Parser.Feed(b)
		if err != nil {
			p.counters.ChecksumErrors.Add(1)
			p.log.Debug("discarding frame", "error", err)
			continue
		}
		if frame == nil {
			continue
		}

		p.counters.FramesDecoded.Add(1)
		select {
		case p.cfg.Out <- frame:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
