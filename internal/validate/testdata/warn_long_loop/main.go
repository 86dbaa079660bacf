package kernels

func Kernel() (c int32) {
	for i := 0; i < 70000; i++ {
		c++
	}
	return
}
