/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package logging is the leveled logger shared by every ipcbench package.
// The level defaults to Warn and can be set with IPCBENCH_LOG_LEVEL, either
// by name (trace, debug, info, warn, error, none) or by number (0-5).
package logging

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level numbers accepted in IPCBENCH_LOG_LEVEL.
const (
	levelTrace = iota
	levelDebug
	levelInfo
	levelWarn
	levelError
	levelNoPrint
)

var (
	level     = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	debugMode = false
	out       = &swappableWriter{w: os.Stderr}
	base      *zap.Logger
)

func init() {
	if v := os.Getenv("IPCBENCH_LOG_LEVEL"); v != "" {
		_ = SetLevel(v)
	}
	if os.Getenv("IPCBENCH_DEBUG_MODE") != "" {
		debugMode = true
	}
	base = zap.New(
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), zapcore.AddSync(out), level),
		zap.AddCaller(),
	)
}

// Logger is a named, leveled logger.
type Logger struct {
	*zap.SugaredLogger
}

// Named returns a logger tagged with name.
func Named(name string) *Logger {
	return &Logger{SugaredLogger: base.Named(name).Sugar()}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(args ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(args...)}
}

// SetLevel changes the level of every logger. It accepts the same values as
// IPCBENCH_LOG_LEVEL.
func SetLevel(v string) error {
	l, err := parseLevel(v)
	if err != nil {
		return err
	}
	level.SetLevel(l)
	return nil
}

// SetOutput redirects every logger to w.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	out.set(w)
}

// DebugMode reports whether IPCBENCH_DEBUG_MODE is set.
func DebugMode() bool {
	return debugMode
}

// Sync flushes buffered output.
func Sync() {
	_ = base.Sync()
}

func parseLevel(v string) (zapcore.Level, error) {
	v = strings.TrimSpace(strings.ToLower(v))
	if n, err := strconv.Atoi(v); err == nil {
		switch {
		case n <= levelDebug:
			return zapcore.DebugLevel, nil
		case n == levelInfo:
			return zapcore.InfoLevel, nil
		case n == levelWarn:
			return zapcore.WarnLevel, nil
		case n == levelError:
			return zapcore.ErrorLevel, nil
		default:
			return zapcore.FatalLevel, nil
		}
	}
	switch v {
	case "trace":
		return zapcore.DebugLevel, nil
	case "none", "noprint", "off":
		return zapcore.FatalLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		return zapcore.WarnLevel, fmt.Errorf("unknown log level %q", v)
	}
	return l, nil
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "T",
		LevelKey:       "L",
		NameKey:        "N",
		CallerKey:      "C",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "M",
		StacktraceKey:  "S",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.999999"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

type swappableWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *swappableWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *swappableWriter) set(w io.Writer) {
	s.mu.Lock()
	s.w = w
	s.mu.Unlock()
}
