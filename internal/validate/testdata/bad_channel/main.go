package kernels

func Kernel(a int32) (b int32) {
	ch := make(chan int32, 1)
	ch <- a
	b = <-ch
	return
}
