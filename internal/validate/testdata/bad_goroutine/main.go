package kernels

func worker() {}

func Kernel(a int32) (b int32) {
	go worker()
	b = a
	return
}
