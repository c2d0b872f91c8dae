package codec

import "fmt"

type parserState uint8

const (
	stateIdle parserState = iota
	stateVersion
	stateDirection
	stateV1Length
	stateV1Cmd
	stateV1Payload
	stateV1Checksum
	stateV2Flags
	stateV2CmdLow
	stateV2CmdHigh
	stateV2LenLow
	stateV2LenHigh
	stateV2Payload
	stateV2Checksum
)

// Parser is an incremental MSP decoder fed one byte at a time. It understands
// both MSPv1 and MSPv2 framing. A Parser is not safe for concurrent use.
type Parser struct {
	state     parserState
	version   byte
	direction Direction
	cmd       uint16
	length    int
	payload   []byte
	crc       byte
}

// NewParser returns a parser scanning for the start of a frame.
func NewParser() *Parser {
	return &Parser{}
}

// Reset discards any partially decoded frame and resumes scanning for a
// preamble.
func (p *Parser) Reset() {
	p.state = stateIdle
	p.version = 0
	p.cmd = 0
	p.length = 0
	p.payload = nil
	p.crc = 0
}

// Pending reports whether the parser is in the middle of a frame.
func (p *Parser) Pending() bool {
	return p.state != stateIdle
}

// Parse consumes one byte. It returns (nil, nil) while more bytes are needed,
// a frame when one completes, or an error wrapping ErrChecksumMismatch when
// a frame fails validation. The parser is back in the scanning state after
// a frame or an error.
func (p *Parser) Parse(b byte) (*Frame, error) {
	switch p.state {
	case stateIdle:
		if b == Preamble {
			p.state = stateVersion
		}

	case stateVersion:
		switch b {
		case VersionV1, VersionV2:
			p.version = b
			p.state = stateDirection
		default:
			p.restart(b)
		}

	case stateDirection:
		dir, ok := directionFromMarker(b)
		if !ok {
			p.restart(b)
			return nil, nil
		}
		p.direction = dir
		p.crc = 0
		if p.version == VersionV1 {
			p.state = stateV1Length
		} else {
			p.state = stateV2Flags
		}

	case stateV1Length:
		p.length = int(b)
		p.crc = b
		p.state = stateV1Cmd

	case stateV1Cmd:
		p.cmd = uint16(b)
		p.crc ^= b
		p.beginPayload(stateV1Payload, stateV1Checksum)

	case stateV1Payload:
		p.payload = append(p.payload, b)
		p.crc ^= b
		if len(p.payload) == p.length {
			p.state = stateV1Checksum
		}

	case stateV1Checksum:
		return p.finish(b)

	case stateV2Flags:
		p.crc = CRC8DVBS2(0, b)
		p.state = stateV2CmdLow

	case stateV2CmdLow:
		p.cmd = uint16(b)
		p.crc = CRC8DVBS2(p.crc, b)
		p.state = stateV2CmdHigh

	case stateV2CmdHigh:
		p.cmd |= uint16(b) << 8
		p.crc = CRC8DVBS2(p.crc, b)
		p.state = stateV2LenLow

	case stateV2LenLow:
		p.length = int(b)
		p.crc = CRC8DVBS2(p.crc, b)
		p.state = stateV2LenHigh

	case stateV2LenHigh:
		p.length |= int(b) << 8
		p.crc = CRC8DVBS2(p.crc, b)
		p.beginPayload(stateV2Payload, stateV2Checksum)

	case stateV2Payload:
		p.payload = append(p.payload, b)
		p.crc = CRC8DVBS2(p.crc, b)
		if len(p.payload) == p.length {
			p.state = stateV2Checksum
		}

	case stateV2Checksum:
		return p.finish(b)
	}

	return nil, nil
}

func (p *Parser) beginPayload(payloadState, checksumState parserState) {
	p.payload = make([]byte, 0, p.length)
	if p.length == 0 {
		p.state = checksumState
		return
	}
	p.state = payloadState
}

func (p *Parser) finish(received byte) (*Frame, error) {
	expected := p.crc
	frame := &Frame{
		Cmd:       p.cmd,
		Direction: p.direction,
		Payload:   p.payload,
	}
	p.Reset()

	if received != expected {
		return nil, fmt.Errorf("%w: cmd %d: expected %02x, got %02x",
			ErrChecksumMismatch, frame.Cmd, expected, received)
	}
	return frame, nil
}

// restart handles an unexpected header byte. A '$' may begin a new frame.
func (p *Parser) restart(b byte) {
	p.Reset()
	if b == Preamble {
		p.state = stateVersion
	}
}
