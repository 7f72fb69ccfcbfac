//go:build unix

package transport

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDupKeepsPipeOpen(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	w2, err := Dup(w)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = w2.Write([]byte("ok"))
	require.NoError(t, err)
	require.NoError(t, w2.Close())

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(got))
}
