package msp

import (
	"encoding/binary"
	"fmt"
)

const (
	// DataflashReadSize is the MSP_DATAFLASH_READ request: address + length.
	DataflashReadSize = 6
	// DataflashSummarySize is flags + sectors + total size + used size.
	DataflashSummarySize = 13
	// DataflashChunkHeaderSize is the address prefix of a read reply.
	DataflashChunkHeaderSize = 4

	summaryFlagReady     = 0x01
	summaryFlagSupported = 0x02
)

// DataflashRead asks the device for up to Length bytes starting at Address.
type DataflashRead struct {
	Address uint32
	Length  uint16
}

// MarshalBinary encodes the request. Wire layout: [address u32][length u16].
func (r DataflashRead) MarshalBinary() ([]byte, error) {
	buf := make([]byte, DataflashReadSize)
	binary.LittleEndian.PutUint32(buf[0:4], r.Address)
	binary.LittleEndian.PutUint16(buf[4:6], r.Length)
	return buf, nil
}

// UnmarshalBinary decodes a read request.
func (r *DataflashRead) UnmarshalBinary(data []byte) error {
	if len(data) < DataflashReadSize {
		return fmt.Errorf("%w: dataflash read needs %d bytes, got %d",
			ErrShortPayload, DataflashReadSize, len(data))
	}
	r.Address = binary.LittleEndian.Uint32(data[0:4])
	r.Length = binary.LittleEndian.Uint16(data[4:6])
	return nil
}

// DataflashSummary describes the flash chip's usable region. UsedSizeBytes
// bounds a streaming read.
type DataflashSummary struct {
	Supported      bool
	Ready          bool
	Sectors        uint32
	TotalSizeBytes uint32
	UsedSizeBytes  uint32
}

// MarshalBinary encodes the summary.
// Wire layout: [flags][sectors u32][total u32][used u32]; flags bit 0 is
// ready and bit 1 is supported.
func (s DataflashSummary) MarshalBinary() ([]byte, error) {
	buf := make([]byte, DataflashSummarySize)
	if s.Ready {
		buf[0] |= summaryFlagReady
	}
	if s.Supported {
		buf[0] |= summaryFlagSupported
	}
	binary.LittleEndian.PutUint32(buf[1:5], s.Sectors)
	binary.LittleEndian.PutUint32(buf[5:9], s.TotalSizeBytes)
	binary.LittleEndian.PutUint32(buf[9:13], s.UsedSizeBytes)
	return buf, nil
}

// UnmarshalBinary decodes a summary reply.
func (s *DataflashSummary) UnmarshalBinary(data []byte) error {
	if len(data) < DataflashSummarySize {
		return fmt.Errorf("%w: dataflash summary needs %d bytes, got %d",
			ErrShortPayload, DataflashSummarySize, len(data))
	}
	s.Ready = data[0]&summaryFlagReady != 0
	s.Supported = data[0]&summaryFlagSupported != 0
	s.Sectors = binary.LittleEndian.Uint32(data[1:5])
	s.TotalSizeBytes = binary.LittleEndian.Uint32(data[5:9])
	s.UsedSizeBytes = binary.LittleEndian.Uint32(data[9:13])
	return nil
}

// DataflashChunk is one reply to a read request. Payload length is chosen
// by the device and may be shorter than requested.
type DataflashChunk struct {
	Address uint32
	Payload []byte
}

// MarshalBinary encodes the reply. Wire layout: [address u32][payload...].
func (c DataflashChunk) MarshalBinary() ([]byte, error) {
	buf := make([]byte, DataflashChunkHeaderSize+len(c.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], c.Address)
	copy(buf[DataflashChunkHeaderSize:], c.Payload)
	return buf, nil
}

// UnmarshalBinary splits a reply into its address prefix and data. The
// payload is copied so the chunk does not alias the frame buffer.
func (c *DataflashChunk) UnmarshalBinary(data []byte) error {
	if len(data) < DataflashChunkHeaderSize {
		return fmt.Errorf("%w: dataflash chunk needs %d bytes, got %d",
			ErrShortPayload, DataflashChunkHeaderSize, len(data))
	}
	c.Address = binary.LittleEndian.Uint32(data[0:4])
	c.Payload = make([]byte, len(data)-DataflashChunkHeaderSize)
	copy(c.Payload, data[DataflashChunkHeaderSize:])
	return nil
}

// End returns the address one past the last byte of the chunk.
func (c DataflashChunk) End() uint32 {
	return c.Address + uint32(len(c.Payload))
}
