// Package fctest provides an in-memory flight controller for tests.
//
// A Device implements transport.Link. Bytes written to it are decoded as
// MSP requests and answered from a configurable mode range table and
// dataflash image. Tests can intercept requests to drop, delay, duplicate
// or corrupt replies.
package fctest

import (
	"sync"
	"time"

	"github.com/kabili207/inav-msp-go/core/codec"
	"github.com/kabili207/inav-msp-go/core/msp"
	"github.com/kabili207/inav-msp-go/transport"
)

// DefaultReadTimeout is how long Read waits for reply bytes.
const DefaultReadTimeout = 5 * time.Millisecond

// Handler produces the raw reply bytes for one decoded request. Returning
// nil sends nothing.
type Handler func(d *Device, req *codec.Frame) []byte

// Config describes the simulated device.
type Config struct {
	// Flash is the used region of the dataflash.
	Flash []byte
	// FlashCapacity is the reported chip size. Default: len(Flash).
	FlashCapacity uint32
	// NoFlash reports the dataflash as unsupported.
	NoFlash bool
	// ModeRanges seeds the mode range table.
	ModeRanges [msp.ModeRangeSlots]msp.ModeRangeEntry
	// ReadTimeout bounds each Read. Default: 5ms.
	ReadTimeout time.Duration
}

// Device is a virtual flight controller reachable as a transport.Link.
type Device struct {
	cfg    Config
	parser *codec.Parser

	mu       sync.Mutex
	pending  []byte
	modes    [msp.ModeRangeSlots]msp.ModeRangeEntry
	requests []*codec.Frame
	handler  Handler
	delay    time.Duration

	notify    chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

var _ transport.Link = (*Device)(nil)

// New creates a device.
func New(cfg Config) *Device {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.FlashCapacity == 0 {
		cfg.FlashCapacity = uint32(len(cfg.Flash))
	}
	return &Device{
		cfg:    cfg,
		parser: codec.NewParser(),
		modes:  cfg.ModeRanges,
		notify: make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
}

// SetHandler replaces the request handler. A nil handler restores the
// default replies.
func (d *Device) SetHandler(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = h
}

// SetDelay delays every reply by delay.
func (d *Device) SetDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delay = delay
}

// Requests returns every request decoded so far, in arrival order.
func (d *Device) Requests() []*codec.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*codec.Frame, len(d.requests))
	copy(out, d.requests)
	return out
}

// RequestsFor returns the decoded requests for one command.
func (d *Device) RequestsFor(cmd uint16) []*codec.Frame {
	var out []*codec.Frame
	for _, f := range d.Requests() {
		if f.Cmd == cmd {
			out = append(out, f)
		}
	}
	return out
}

// ModeTable returns the current mode range table.
func (d *Device) ModeTable() [msp.ModeRangeSlots]msp.ModeRangeEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.modes
}

// Inject queues raw bytes for the host to read.
func (d *Device) Inject(b []byte) {
	d.mu.Lock()
	d.pending = append(d.pending, b...)
	d.mu.Unlock()
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Read returns queued reply bytes, waiting up to the read timeout.
func (d *Device) Read(p []byte) (int, error) {
	timer := time.NewTimer(d.cfg.ReadTimeout)
	defer timer.Stop()

	for {
		select {
		case <-d.closed:
			return 0, transport.ErrClosed
		default:
		}

		d.mu.Lock()
		if len(d.pending) > 0 {
			n := copy(p, d.pending)
			d.pending = d.pending[n:]
			d.mu.Unlock()
			return n, nil
		}
		d.mu.Unlock()

		select {
		case <-d.notify:
		case <-timer.C:
			return 0, transport.ErrTimeout
		case <-d.closed:
			return 0, transport.ErrClosed
		}
	}
}

// Write decodes requests from p and schedules their replies.
func (d *Device) Write(p []byte) (int, error) {
	select {
	case <-d.closed:
		return 0, transport.ErrClosed
	default:
	}

	for _, b := range p {
		frame, err := d.parser.Parse(b)
		if err != nil || frame == nil {
			continue
		}
		d.handle(frame)
	}
	return len(p), nil
}

// Close closes the link. Blocked reads return transport.ErrClosed.
func (d *Device) Close() error {
	d.closeOnce.Do(func() { close(d.closed) })
	return nil
}

func (d *Device) handle(req *codec.Frame) {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	h := d.handler
	delay := d.delay
	d.mu.Unlock()

	var reply []byte
	if h != nil {
		reply = h(d, req)
	} else {
		reply = d.Reply(req)
	}
	if len(reply) == 0 {
		return
	}
	if delay > 0 {
		time.AfterFunc(delay, func() { d.Inject(reply) })
		return
	}
	d.Inject(reply)
}

// Reply returns the encoded reply the device would normally send for req.
func (d *Device) Reply(req *codec.Frame) []byte {
	switch req.Cmd {
	case msp.CmdModeRanges:
		d.mu.Lock()
		table := msp.ModeRangesReply{Slots: d.modes}
		d.mu.Unlock()
		payload, _ := table.MarshalBinary()
		return Encode(req.Cmd, payload)

	case msp.CmdSetModeRange:
		r, err := msp.UnmarshalSetModeRange(req.Payload)
		if err != nil || int(r.Index) >= msp.ModeRangeSlots {
			return EncodeError(req.Cmd)
		}
		d.mu.Lock()
		d.modes[r.Index] = r.Entry()
		d.mu.Unlock()
		return Encode(req.Cmd, nil)

	case msp.CmdDataflashSummary:
		payload, _ := d.Summary().MarshalBinary()
		return Encode(req.Cmd, payload)

	case msp.CmdDataflashRead:
		var read msp.DataflashRead
		if err := read.UnmarshalBinary(req.Payload); err != nil {
			return EncodeError(req.Cmd)
		}
		return EncodeChunk(read.Address, d.FlashAt(read.Address, read.Length))
	}
	return EncodeError(req.Cmd)
}

// Summary returns the dataflash summary the device reports.
func (d *Device) Summary() msp.DataflashSummary {
	if d.cfg.NoFlash {
		return msp.DataflashSummary{}
	}
	return msp.DataflashSummary{
		Supported:      true,
		Ready:          true,
		Sectors:        1,
		TotalSizeBytes: d.cfg.FlashCapacity,
		UsedSizeBytes:  uint32(len(d.cfg.Flash)),
	}
}

// FlashAt returns up to length bytes of the used region starting at addr.
// Reads at or past the end return no data.
func (d *Device) FlashAt(addr uint32, length uint16) []byte {
	used := uint32(len(d.cfg.Flash))
	if addr >= used {
		return nil
	}
	end := addr + uint32(length)
	if end > used {
		end = used
	}
	return d.cfg.Flash[addr:end]
}

// Encode returns a reply frame for cmd.
func Encode(cmd uint16, payload []byte) []byte {
	return encode(&codec.Frame{Cmd: cmd, Direction: codec.DirectionFromDevice, Payload: payload})
}

// EncodeError returns an error reply for cmd.
func EncodeError(cmd uint16) []byte {
	return encode(&codec.Frame{Cmd: cmd, Direction: codec.DirectionError})
}

// EncodeChunk returns a dataflash read reply carrying data at addr.
func EncodeChunk(addr uint32, data []byte) []byte {
	payload, _ := msp.DataflashChunk{Address: addr, Payload: data}.MarshalBinary()
	return Encode(msp.CmdDataflashRead, payload)
}

// Corrupt returns a copy of an encoded frame with its checksum flipped.
func Corrupt(frame []byte) []byte {
	out := append([]byte(nil), frame...)
	if len(out) > 0 {
		out[len(out)-1] ^= 0xFF
	}
	return out
}

func encode(f *codec.Frame) []byte {
	buf := make([]byte, codec.EncodedSize(f))
	if err := codec.EncodeTo(buf, f); err != nil {
		panic(err)
	}
	return buf
}
