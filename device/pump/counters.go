package pump

import "sync/atomic"

// Counters tracks link pump statistics using atomic counters.
// All fields are safe for concurrent access.
type Counters struct {
	BytesRead      atomic.Uint64 // Bytes read from the link
	FramesDecoded  atomic.Uint64 // Frames produced by the decoder
	ChecksumErrors atomic.Uint64 // Frames dropped for a bad checksum
	ReadTimeouts   atomic.Uint64 // Reads that returned no data in time
	ReadErrors     atomic.Uint64 // Non-timeout read failures
	BytesWritten   atomic.Uint64 // Bytes written to the link
	FramesWritten  atomic.Uint64 // Frames fully written
	WriteRetries   atomic.Uint64 // Writes retried after a transient error
	WriteErrors    atomic.Uint64 // Frames dropped after a fatal write error
	Resyncs        atomic.Uint64 // Forced decoder resets
}

// CountersSnapshot is a plain-value copy of Counters for reading.
type CountersSnapshot struct {
	BytesRead      uint64
	FramesDecoded  uint64
	ChecksumErrors uint64
	ReadTimeouts   uint64
	ReadErrors     uint64
	BytesWritten   uint64
	FramesWritten  uint64
	WriteRetries   uint64
	WriteErrors    uint64
	Resyncs        uint64
}

// Snapshot returns a point-in-time copy of all counters.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		BytesRead:      c.BytesRead.Load(),
		FramesDecoded:  c.FramesDecoded.Load(),
		ChecksumErrors: c.ChecksumErrors.Load(),
		ReadTimeouts:   c.ReadTimeouts.Load(),
		ReadErrors:     c.ReadErrors.Load(),
		BytesWritten:   c.BytesWritten.Load(),
		FramesWritten:  c.FramesWritten.Load(),
		WriteRetries:   c.WriteRetries.Load(),
		WriteErrors:    c.WriteErrors.Load(),
		Resyncs:        c.Resyncs.Load(),
	}
}
