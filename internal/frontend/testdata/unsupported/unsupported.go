package unsupported

func helper(x int32) int32 { return x }

func Calls(a int32) (b int32) {
	b = helper(a)
	return
}

func Swap(a, b int32) (x, y int32) {
	x, y = b, a
	return
}

func Unnamed(a int32) int32 {
	return a
}

func Floats(a float64) (b int32) {
	return
}

func NestedArray(a int32) (b int32) {
	for b < a {
		var tmp [2]int32
		tmp[0] = b
		b = tmp[0] + 1
	}
	return
}

func EarlyReturn(a int32) (b int32) {
	if a > 0 {
		return
	}
	b = 1
	return
}
