package attiny

// The firmware guards every register transfer with a CRC-8 over the register
// address followed by the payload bytes. Bit-serial, polynomial 0x31, no
// reflection, zero seed.

const crcPolynome = 0x31

func addCRC(crc, b uint8) uint8 {
	for bit := 0; bit < 8; bit++ {
		if (b^crc)&0x80 != 0 {
			crc = crc<<1 ^ crcPolynome
		} else {
			crc <<= 1
		}
		b <<= 1
	}
	return crc
}

// CRC computes the checksum over a register address and the payload bytes
// transferred for it.
func CRC(reg uint8, payload []byte) uint8 {
	crc := addCRC(0, reg)
	for _, b := range payload {
		crc = addCRC(crc, b)
	}
	return crc
}
