package proxy

import "strings"

// NumSlots is the size of the cluster keyspace.
const NumSlots = 16384

// crc16tab is the CCITT table for polynomial 0x1021, the hash the
// cluster itself uses for key placement.
var crc16tab [256]uint16

func init() {
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
		crc16tab[i] = crc
	}
}

func crc16(key string) uint16 {
	var crc uint16
	for i := 0; i < len(key); i++ {
		crc = crc<<8 ^ crc16tab[byte(crc>>8)^key[i]]
	}
	return crc
}

// Key2Slot maps a key to its cluster slot. A non-empty substring between
// the first '{' and the first following '}' replaces the key as the hash
// input, so clients can pin related keys to one slot.
func Key2Slot(key string) int {
	if open := strings.IndexByte(key, '{'); open >= 0 {
		if close_ := strings.IndexByte(key[open+1:], '}'); close_ > 0 {
			key = key[open+1 : open+1+close_]
		}
	}
	return int(crc16(key)) % NumSlots
}
