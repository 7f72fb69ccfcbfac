//go:build !linux

package shm

func futexWait(addr *uint32, val uint32) error {
	return ErrUnsupported
}

func futexWake(addr *uint32, n int) (int, error) {
	return 0, ErrUnsupported
}
