//go:build !unix

package transport

import "os"

// Dup is not available on this platform.
func Dup(f *os.File) (*os.File, error) {
	return nil, ErrUnsupported
}
