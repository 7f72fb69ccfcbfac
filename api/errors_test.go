package api

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitUsage, ExitCode(fmt.Errorf("producers: %w", ErrUsage)))
	assert.Equal(t, ExitSetup, ExitCode(fmt.Errorf("mmap: %w", ErrSetup)))
	assert.Equal(t, ExitSync, ExitCode(fmt.Errorf("push: %w", ErrSync)))
	assert.Equal(t, ExitIO, ExitCode(fmt.Errorf("write: %w", ErrIO)))
	assert.Equal(t, ExitWorkerFailed, ExitCode(fmt.Errorf("%w: 1 of 3 workers", ErrWorkerFailed)))
	assert.Equal(t, ExitUnclassified, ExitCode(errors.New("boom")))
}

func TestExitCodeDistinct(t *testing.T) {
	seen := map[int]string{}
	for _, err := range []error{ErrUsage, ErrSetup, ErrSync, ErrIO, ErrWorkerFailed} {
		code := ExitCode(err)
		_, dup := seen[code]
		assert.False(t, dup, "exit code %d reused", code)
		seen[code] = ExitReason(code)
		assert.NotEqual(t, ExitOK, code)
	}
	assert.Equal(t, "sync failure", ExitReason(ExitSync))
}
