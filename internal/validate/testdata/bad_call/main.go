package kernels

func double(x int32) int32 {
	return x * 2
}

func Kernel(a int32) (b int32) {
	b = double(a)
	return
}
