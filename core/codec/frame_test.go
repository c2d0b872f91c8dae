package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_Layout(t *testing.T) {
	f := NewRequest(0x0147, []byte{0xAA, 0xBB})

	buf, err := Encode(f)
	require.NoError(t, err)
	require.Len(t, buf, EncodedSize(f))

	assert.Equal(t, []byte{'$', 'X', '<', 0x00, 0x47, 0x01, 0x02, 0x00, 0xAA, 0xBB}, buf[:10])
	assert.Equal(t, CRC8DVBS2Bytes(buf[3:10]), buf[10])
}

func TestEncode_EmptyPayload(t *testing.T) {
	f := NewRequest(70, nil)
	buf, err := Encode(f)
	require.NoError(t, err)
	assert.Len(t, buf, V2Overhead)
	assert.Equal(t, 9, EncodedSize(f))
}

func TestEncode_RejectsReplyDirection(t *testing.T) {
	_, err := Encode(&Frame{Cmd: 1, Direction: DirectionFromDevice})
	assert.ErrorIs(t, err, ErrWrongDirection)
}

func TestEncode_PayloadTooLarge(t *testing.T) {
	f := NewRequest(1, make([]byte, MaxPayloadV2+1))
	_, err := Encode(f)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestEncodeTo_BufferTooSmall(t *testing.T) {
	f := NewRequest(1, []byte{1, 2, 3})
	err := EncodeTo(make([]byte, 4), f)
	assert.Error(t, err)
}

func TestEncodeV1(t *testing.T) {
	buf, err := EncodeV1(NewRequest(100, nil))
	require.NoError(t, err)
	assert.Equal(t, []byte{'$', 'M', '<', 0x00, 0x64, 0x64}, buf)

	_, err = EncodeV1(NewRequest(0x1001, nil))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestDirection_String(t *testing.T) {
	assert.Equal(t, "to-device", DirectionToDevice.String())
	assert.Equal(t, "from-device", DirectionFromDevice.String())
	assert.Equal(t, "error", DirectionError.String())
	assert.Equal(t, "unknown", Direction(9).String())
}
