package router

import "sync/atomic"

// RouterCounters tracks frame dispatch statistics using atomic counters.
// All fields are safe for concurrent access.
type RouterCounters struct {
	FramesRouted    atomic.Uint64 // Frames delivered to a mailbox
	FramesIgnored   atomic.Uint64 // Frames not sent by the device
	ErrorReplies    atomic.Uint64 // '!' replies (command rejected by the device)
	UnknownCommands atomic.Uint64 // Replies with no mailbox
	DecodeErrors    atomic.Uint64 // Recognized replies with a malformed payload
	StaleReplaced   atomic.Uint64 // Unread replies overwritten by newer ones
}

// CountersSnapshot is a plain-value copy of RouterCounters for reading.
type CountersSnapshot struct {
	FramesRouted    uint64
	FramesIgnored   uint64
	ErrorReplies    uint64
	UnknownCommands uint64
	DecodeErrors    uint64
	StaleReplaced   uint64
}

// Snapshot returns a point-in-time copy of all counters.
func (c *RouterCounters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		FramesRouted:    c.FramesRouted.Load(),
		FramesIgnored:   c.FramesIgnored.Load(),
		ErrorReplies:    c.ErrorReplies.Load(),
		UnknownCommands: c.UnknownCommands.Load(),
		DecodeErrors:    c.DecodeErrors.Load(),
		StaleReplaced:   c.StaleReplaced.Load(),
	}
}

// Reset zeroes all counters.
func (c *RouterCounters) Reset() {
	c.FramesRouted.Store(0)
	c.FramesIgnored.Store(0)
	c.ErrorReplies.Store(0)
	c.UnknownCommands.Store(0)
	c.DecodeErrors.Store(0)
	c.StaleReplaced.Store(0)
}
