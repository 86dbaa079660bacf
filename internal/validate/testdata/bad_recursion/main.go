package kernels

func Kernel(a int32) (b int32) {
	if a > 0 {
		b = Kernel(a-1) + a
	}
	return
}
