// Package router demultiplexes decoded MSP frames to per-command mailboxes.
//
// MSP carries no request identifier, so replies are correlated with requests
// only by command code. The Router keeps one single-slot Mailbox per reply
// kind it understands:
//   - MSP_MODE_RANGES: the decoded 20-slot mode range table
//   - MSP_SET_MODE_RANGE: an empty acknowledgement
//   - MSP_DATAFLASH_SUMMARY: the decoded flash summary
//   - MSP_DATAFLASH_READ: an address-tagged chunk of flash data
//
// Frames not sent by the device and replies to other commands are dropped.
// A recognized reply with a malformed payload is logged and dropped; it
// never stops the router.
package router

import (
	"log/slog"

	"github.com/kabili207/inav-msp-go/core/codec"
	"github.com/kabili207/inav-msp-go/core/msp"
)

// Config configures a Router.
type Config struct {
	// Counters receives dispatch statistics. If nil, the router allocates
	// its own; read them with Counters().
	Counters *RouterCounters

	// Logger for routing events. Falls back to slog.Default() if nil.
	Logger *slog.Logger
}

// Router dispatches inbound frames by command code.
type Router struct {
	log      *slog.Logger
	counters *RouterCounters

	modeRanges      *Mailbox[msp.ModeRangesReply]
	setModeRangeAck *Mailbox[struct{}]
	summary         *Mailbox[msp.DataflashSummary]
	chunks          *Mailbox[msp.DataflashChunk]
}

// New creates a Router with the given configuration.
func New(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	counters := cfg.Counters
	if counters == nil {
		counters = &RouterCounters{}
	}

	return &Router{
		log:             logger.WithGroup("router"),
		counters:        counters,
		modeRanges:      NewMailbox[msp.ModeRangesReply](),
		setModeRangeAck: NewMailbox[struct{}](),
		summary:         NewMailbox[msp.DataflashSummary](),
		chunks:          NewMailbox[msp.DataflashChunk](),
	}
}

// ModeRanges returns the MSP_MODE_RANGES reply mailbox.
func (r *Router) ModeRanges() *Mailbox[msp.ModeRangesReply] { return r.modeRanges }

// SetModeRangeAck returns the MSP_SET_MODE_RANGE acknowledgement mailbox.
func (r *Router) SetModeRangeAck() *Mailbox[struct{}] { return r.setModeRangeAck }

// Summary returns the MSP_DATAFLASH_SUMMARY reply mailbox.
func (r *Router) Summary() *Mailbox[msp.DataflashSummary] { return r.summary }

// Chunks returns the MSP_DATAFLASH_READ reply mailbox.
func (r *Router) Chunks() *Mailbox[msp.DataflashChunk] { return r.chunks }

// Counters returns the router's statistics.
func (r *Router) Counters() *RouterCounters { return r.counters }

// Run consumes frames until in is closed, then closes every mailbox so
// waiting requesters observe the disconnect.
func (r *Router) Run(in <-chan *codec.Frame) {
	defer r.closeMailboxes()
	for frame := range in {
		r.HandleFrame(frame)
	}
}

// HandleFrame dispatches a single frame.
func (r *Router) HandleFrame(frame *codec.Frame) {
	switch frame.Direction {
	case codec.DirectionFromDevice:
	case codec.DirectionError:
		r.counters.ErrorReplies.Add(1)
		r.log.Debug("device rejected command",
			"cmd", frame.Cmd, "name", msp.CommandName(frame.Cmd))
		return
	default:
		r.counters.FramesIgnored.Add(1)
		return
	}

	var replaced bool
	switch frame.Cmd {
	case msp.CmdModeRanges:
		var reply msp.ModeRangesReply
		if err := reply.UnmarshalBinary(frame.Payload); err != nil {
			r.decodeFailed(frame, err)
			return
		}
		replaced = r.modeRanges.Put(reply)

	case msp.CmdSetModeRange:
		// The reply payload is empty; its arrival is the acknowledgement.
		replaced = r.setModeRangeAck.Put(struct{}{})

	case msp.CmdDataflashSummary:
		var summary msp.DataflashSummary
		if err := summary.UnmarshalBinary(frame.Payload); err != nil {
			r.decodeFailed(frame, err)
			return
		}
		replaced = r.summary.Put(summary)

	case msp.CmdDataflashRead:
		var chunk msp.DataflashChunk
		if err := chunk.UnmarshalBinary(frame.Payload); err != nil {
			r.decodeFailed(frame, err)
			return
		}
		replaced = r.chunks.Put(chunk)

	default:
		r.counters.UnknownCommands.Add(1)
		return
	}

	r.counters.FramesRouted.Add(1)
	if replaced {
		r.counters.StaleReplaced.Add(1)
		r.log.Debug("replaced unread reply", "name", msp.CommandName(frame.Cmd))
	}
}

func (r *Router) decodeFailed(frame *codec.Frame, err error) {
	r.counters.DecodeErrors.Add(1)
	r.log.Warn("dropping malformed reply",
		"name", msp.CommandName(frame.Cmd), "len", len(frame.Payload), "error", err)
}

func (r *Router) closeMailboxes() {
	r.modeRanges.Close()
	r.setModeRangeAck.Close()
	r.summary.Close()
	r.chunks.Close()
}
