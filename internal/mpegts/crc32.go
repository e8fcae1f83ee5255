package mpegts

// crcTable is the MSB-first table for the MPEG-2 CRC32 (polynomial
// 0x04C11DB7, initial value 0xFFFFFFFF, no final xor).
var crcTable = func() (t [256]uint32) {
	for i := range t {
		crc := uint32(i) << 24
		for range 8 {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}()

// CRC32 computes the MPEG-2 CRC32 of data. Running it over a complete
// section including its trailing CRC_32 field yields zero.
func CRC32(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}

func sectionCRCValid(section []byte) bool {
	return len(section) >= 4 && CRC32(section) == 0
}
