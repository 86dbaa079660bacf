package kernels

func Kernel(a int32) (b int32) {
	if a > 0 {
		for b < a {
			b++
		}
	}
	return
}
