package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Preamble is the first byte of every MSP frame.
	Preamble byte = '$'
	// VersionV1 marks an MSPv1 frame ("$M").
	VersionV1 byte = 'M'
	// VersionV2 marks an MSPv2 frame ("$X").
	VersionV2 byte = 'X'

	// MaxPayloadV1 is the largest payload an MSPv1 frame can carry.
	MaxPayloadV1 = 255
	// MaxPayloadV2 is the largest payload an MSPv2 frame can carry.
	MaxPayloadV2 = 0xFFFF

	// V2HeaderSize is preamble, version, direction, flags, cmd (2) and length (2).
	V2HeaderSize = 8
	// V2Overhead is the header plus the trailing CRC byte.
	V2Overhead = V2HeaderSize + 1
)

var (
	ErrChecksumMismatch = errors.New("frame checksum mismatch")
	ErrPayloadTooLarge  = errors.New("payload exceeds maximum size")
	ErrWrongDirection   = errors.New("only frames addressed to the device can be encoded")
)

// Direction is the MSP direction marker carried in the third header byte.
type Direction uint8

const (
	// DirectionToDevice is a request sent to the flight controller ('<').
	DirectionToDevice Direction = iota
	// DirectionFromDevice is a reply from the flight controller ('>').
	DirectionFromDevice
	// DirectionError is an error reply from the flight controller ('!'),
	// usually meaning the command is not supported.
	DirectionError
)

func (d Direction) String() string {
	switch d {
	case DirectionToDevice:
		return "to-device"
	case DirectionFromDevice:
		return "from-device"
	case DirectionError:
		return "error"
	default:
		return "unknown"
	}
}

// Marker returns the wire byte for the direction.
func (d Direction) Marker() byte {
	switch d {
	case DirectionToDevice:
		return '<'
	case DirectionFromDevice:
		return '>'
	default:
		return '!'
	}
}

func directionFromMarker(b byte) (Direction, bool) {
	switch b {
	case '<':
		return DirectionToDevice, true
	case '>':
		return DirectionFromDevice, true
	case '!':
		return DirectionError, true
	default:
		return 0, false
	}
}

// Frame is one decoded MSP message. Frames are treated as immutable once
// handed to another goroutine.
type Frame struct {
	Cmd       uint16
	Direction Direction
	Payload   []byte
}

// NewRequest builds a frame addressed to the device.
func NewRequest(cmd uint16, payload []byte) *Frame {
	return &Frame{Cmd: cmd, Direction: DirectionToDevice, Payload: payload}
}

func (f *Frame) String() string {
	return fmt.Sprintf("msp{cmd=%d dir=%s len=%d}", f.Cmd, f.Direction, len(f.Payload))
}

// EncodedSize returns the number of bytes Encode produces for f.
func EncodedSize(f *Frame) int {
	return V2Overhead + len(f.Payload)
}

// Encode serializes f as an MSPv2 frame.
// Frame format: ['$']['X'][dir][flags][cmd (2 LE)][len (2 LE)][payload][crc8]
// Only frames addressed to the device may be encoded.
func Encode(f *Frame) ([]byte, error) {
	if f.Direction != DirectionToDevice {
		return nil, ErrWrongDirection
	}
	buf := make([]byte, EncodedSize(f))
	if err := EncodeTo(buf, f); err != nil {
		return nil, err
	}
	return buf, nil
}

// EncodeTo serializes f into buf, which must be at least EncodedSize(f)
// bytes long. Unlike Encode it accepts any direction, which lets tests and
// virtual devices produce replies.
func EncodeTo(buf []byte, f *Frame) error {
	if len(f.Payload) > MaxPayloadV2 {
		return ErrPayloadTooLarge
	}
	size := EncodedSize(f)
	if len(buf) < size {
		return fmt.Errorf("buffer too small: have %d, need %d", len(buf), size)
	}

	buf[0] = Preamble
	buf[1] = VersionV2
	buf[2] = f.Direction.Marker()
	buf[3] = 0 // flags
	binary.LittleEndian.PutUint16(buf[4:6], f.Cmd)
	binary.LittleEndian.PutUint16(buf[6:8], uint16(len(f.Payload)))
	copy(buf[V2HeaderSize:], f.Payload)
	buf[size-1] = CRC8DVBS2Bytes(buf[3 : size-1])
	return nil
}

// EncodeV1 serializes f as a legacy MSPv1 frame. Commands above 255 and
// payloads above 255 bytes cannot be represented.
func EncodeV1(f *Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayloadV1 || f.Cmd > 0xFF {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, 6+len(f.Payload))
	buf[0] = Preamble
	buf[1] = VersionV1
	buf[2] = f.Direction.Marker()
	buf[3] = byte(len(f.Payload))
	buf[4] = byte(f.Cmd)
	copy(buf[5:], f.Payload)
	buf[len(buf)-1] = XORChecksum(buf[3 : len(buf)-1])
	return buf, nil
}
