package kernels

func Kernel() (b int32) {
	var xs [4]int32
	for i := range xs {
		b += xs[i]
	}
	return
}
