package pump

import (
	"sync"

	"github.com/kabili207/inav-msp-go/core/codec"
)

// LockedParser is the connection's single frame decoder. The read pump feeds
// it and the dataflash reader resets it; both go through the mutex, which is
// held for one byte or one reset at a time.
type LockedParser struct {
	mu     sync.Mutex
	parser *codec.Parser
}

// NewLockedParser returns a decoder scanning for a frame start.
func NewLockedParser() *LockedParser {
	return &LockedParser{parser: codec.NewParser()}
}

// Feed passes one byte to the decoder.
func (p *LockedParser) Feed(b byte) (*codec.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.parser.Parse(b)
}

// Reset drops any partially decoded frame.
func (p *LockedParser) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.parser.Reset()
}
