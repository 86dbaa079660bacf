package kernels

const size = 8

// Kernel sums the integers below limit and records a table of squares.
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
	last = squares[size-1]
	return
}

// Countdown runs its body before testing the exit condition.
func Countdown(from int16) (steps int16) {
	x := from
	for {
		x -= 3
		steps++
		if x <= 0 {
			break
		}
	}
	return
}

// Clamp limits v to [0, 100].
func Clamp(v int16) (out int16, clipped bool) {
	out = v
	if v > 100 {
		out = 100
		clipped = true
	} else if v < 0 {
		out = 0
		clipped = true
	}
	return
}

// Table copies the odd entries of a constant table.
func Table() (total uint16) {
	src := [4]uint16{3, 1, 4, 1}
	var dst [4]uint16
	for i := 0; i < 4; i++ {
		if src[i]&1 == 1 {
			dst[i] = src[i] << 2
		}
	}
	for i := 0; i < 4; i++ {
		total += dst[i]
	}
	return
}
