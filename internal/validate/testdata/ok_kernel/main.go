package kernels

const size = 8

// Kernel sums the squares below limit and records them in a table.
func Kernel(limit int32) (acc int32, last uint8) {
	var squares [size]uint8
	for i := int32(0); i < size; i++ {
		squares[i] = uint8(i * i)
	}
	n := int32(0)
	for n < limit {
		acc += n
		n++
	}
	for {
		acc--
		if acc < 100 {
			break
		}
	}
	last = squares[size-1]
	return
}
