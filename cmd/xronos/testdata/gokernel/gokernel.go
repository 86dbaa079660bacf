package gokernel

// Kernel multiplies n by four with a counted loop.
func Kernel(n int32) (acc int32) {
	for i := int32(0); i < 4; i++ {
		acc += n
	}
	return
}
