package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"0":     zapcore.DebugLevel,
		"2":     zapcore.InfoLevel,
		"3":     zapcore.WarnLevel,
		"4":     zapcore.ErrorLevel,
		"5":     zapcore.FatalLevel,
		"trace": zapcore.DebugLevel,
		"INFO":  zapcore.InfoLevel,
		"none":  zapcore.FatalLevel,
	}
	for in, want := range cases {
		got, err := parseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseLevel("loud")
	assert.Error(t, err)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)
	defer func() { _ = SetLevel("warn") }()

	l := Named("test")
	require.NoError(t, SetLevel("warn"))
	l.Infof("hidden %d", 1)
	assert.Empty(t, buf.String())

	l.Warnf("shown %d", 2)
	assert.Contains(t, buf.String(), "shown 2")
	assert.Contains(t, buf.String(), "test")

	buf.Reset()
	require.NoError(t, SetLevel("debug"))
	l.With("worker", "producer-0").Debugf("now visible")
	assert.Contains(t, buf.String(), "now visible")
	assert.Contains(t, buf.String(), "producer-0")
}
