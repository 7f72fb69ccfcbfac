// Package transport contains low-level file descriptor helpers for the
// transports: handing one kernel object to several workers in a single
// process.
package transport

import "errors"

// ErrUnsupported is returned where descriptors cannot be duplicated.
var ErrUnsupported = errors.New("descriptor duplication not supported on this platform")
