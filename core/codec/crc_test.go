package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC8DVBS2(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected byte
	}{
		{name: "empty", data: []byte{}, expected: 0x00},
		{name: "single zero", data: []byte{0x00}, expected: 0x00},
		{name: "single one", data: []byte{0x01}, expected: 0xD5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CRC8DVBS2Bytes(tt.data))
		})
	}
}

func TestCRC8DVBS2_Incremental(t *testing.T) {
	data := []byte("inav dataflash")
	var crc byte
	for _, b := range data {
		crc = CRC8DVBS2(crc, b)
	}
	assert.Equal(t, CRC8DVBS2Bytes(data), crc)
}

func TestXORChecksum(t *testing.T) {
	assert.Equal(t, byte(0x00), XORChecksum(nil))
	assert.Equal(t, byte(0x64), XORChecksum([]byte{0x00, 0x64}))
	assert.Equal(t, byte(0x00), XORChecksum([]byte{0x5A, 0x5A}))
}
