package codec

// CRC8DVBS2 updates crc with a single byte using the DVB-S2 polynomial (0xD5).
// MSPv2 frames are checksummed with this over flags, command, length and payload.
func CRC8DVBS2(crc, b byte) byte {
	crc ^= b
	for i := 0; i < 8; i++ {
		if crc&0x80 != 0 {
			crc = (crc << 1) ^ 0xD5
		} else {
			crc <<= 1
		}
	}
	return crc
}

// CRC8DVBS2Bytes computes the DVB-S2 CRC of data starting from zero.
func CRC8DVBS2Bytes(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc = CRC8DVBS2(crc, b)
	}
	return crc
}

// XORChecksum computes the MSPv1 checksum, a running XOR over size, command
// and payload bytes.
func XORChecksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum ^= b
	}
	return sum
}
