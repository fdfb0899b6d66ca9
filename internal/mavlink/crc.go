package mavlink

// crcInit is the seed of the X.25 (CRC-16/MCRF4XX) checksum used by MAVLink.
const crcInit uint16 = 0xFFFF

// crcAccumulate folds one byte into a running X.25 checksum.
func crcAccumulate(b byte, crc uint16) uint16 {
	tmp := b ^ byte(crc&0xFF)
	tmp ^= tmp << 4
	t := uint16(tmp)
	return (crc >> 8) ^ (t << 8) ^ (t << 3) ^ (t >> 4)
}

// Checksum computes the X.25 checksum of data.
func Checksum(data []byte) uint16 {
	crc := crcInit
	for _, b := range data {
		crc = crcAccumulate(b, crc)
	}
	return crc
}

// frameChecksum returns the checksum MAVLink appends to a frame: the X.25 sum
// over everything after the start byte, seeded with the message CRC extra.
func frameChecksum(body []byte, crcExtra byte) uint16 {
	return crcAccumulate(crcExtra, Checksum(body))
}
