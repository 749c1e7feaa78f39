package sht1x

import "math/bits"

// crcPoly is the CRC-8 generator x^8 + x^5 + x^4 + 1 used by the sensor.
const crcPoly = 0x31

// crcUpdate shifts v into crc MSB first.
func crcUpdate(crc, v byte) byte {
	for i := 0; i < 8; i++ {
		if (crc^v)&0x80 != 0 {
			crc = (crc << 1) ^ crcPoly
		} else {
			crc <<= 1
		}
		v <<= 1
	}
	return crc
}

// mirror reverses the bit order of b. The sensor transmits its checksum
// LSB first relative to the register it computes.
func mirror(b byte) byte {
	return bits.Reverse8(b)
}
