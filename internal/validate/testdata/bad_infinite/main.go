package kernels

func Kernel(a int32) (b int32) {
	for {
		b++
	}
}
