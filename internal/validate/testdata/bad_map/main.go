package kernels

func Kernel(a int32) (b int32) {
	m := map[int32]int32{}
	m[a] = a
	b = m[a]
	return
}
