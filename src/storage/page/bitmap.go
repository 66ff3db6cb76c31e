package page

// Bit i of the header lives in byte i/8 at position i%8, least significant
// bit first.

func bitSet(header []byte, i int) bool {
	return header[i/8]&(1<<(uint(i)%8)) != 0
}

func setBit(header []byte, i int, v bool) {
	mask := byte(1 << (uint(i) % 8))
	if v {
		header[i/8] |= mask
		return
	}
	header[i/8] &^= mask
}
