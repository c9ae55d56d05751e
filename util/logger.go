// Package util provides low-level helpers shared by all other packages.
package util

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel controls output verbosity.
type LogLevel int

const (
	LogQuiet   LogLevel = 0
	LogNormal  LogLevel = 1
	LogVerbose LogLevel = 2
	LogDebug   LogLevel = 3
)

// zap has no level between Debug and Info, so verbose and debug sit
// below zap's own Debug.
const (
	zapVerbose = zapcore.DebugLevel
	zapDebug   = zapcore.DebugLevel - 1
)

// Logger writes levelled messages to stderr with optional timestamps
// and level prefixes.  Output is produced by a zap core; the level
// gating stays here so Error is never filtered.
type Logger struct {
	level      LogLevel
	output     io.Writer
	timestamps bool // if true, prepend HH:MM:SS.mmm timestamps
	json       bool
	fields     []zap.Field

	mu sync.Mutex
	zl *zap.Logger
}

// NewLogger returns a Logger that prints messages at or below the given
// verbosity (0 = quiet, 1 = normal, 2 = verbose, 3 = debug).
func NewLogger(verbosity int) *Logger {
	l := &Logger{
		level:      LogLevel(verbosity),
		output:     os.Stderr,
		timestamps: verbosity >= 3, // auto-enable timestamps in debug mode
	}
	l.rebuild()
	return l
}

// SetTimestamps enables or disables timestamp prefixes.
func (l *Logger) SetTimestamps(on bool) {
	l.mu.Lock()
	l.timestamps = on
	l.rebuildLocked()
	l.mu.Unlock()
}

// SetOutput overrides the output writer (default: os.Stderr).
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	l.output = w
	l.rebuildLocked()
	l.mu.Unlock()
}

// SetJSON switches between the console encoder and the JSON encoder.
func (l *Logger) SetJSON(on bool) {
	l.mu.Lock()
	l.json = on
	l.rebuildLocked()
	l.mu.Unlock()
}

// Level returns the current log level.
func (l *Logger) Level() LogLevel { return l.level }

// With returns a child logger that attaches key=value to every line.
// Settings changed on the parent later are not propagated.
func (l *Logger) With(key string, value interface{}) *Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	child := &Logger{
		level:      l.level,
		output:     l.output,
		timestamps: l.timestamps,
		json:       l.json,
		fields:     append(append([]zap.Field(nil), l.fields...), zap.Any(key, value)),
	}
	child.rebuildLocked()
	return child
}

// Info prints when verbosity ≥ 1.  Prefixed with [INF].
func (l *Logger) Info(format string, args ...interface{}) {
	if l.level >= LogNormal {
		l.write(zapcore.InfoLevel, format, args...)
	}
}

// Warn prints when verbosity ≥ 1.  Prefixed with [WRN].
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.level >= LogNormal {
		l.write(zapcore.WarnLevel, format, args...)
	}
}

// Verbose prints when verbosity ≥ 2.  Prefixed with [VRB].
func (l *Logger) Verbose(format string, args ...interface{}) {
	if l.level >= LogVerbose {
		l.write(zapVerbose, format, args...)
	}
}

// Debug prints when verbosity ≥ 3.  Prefixed with [DBG].
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.level >= LogDebug {
		l.write(zapDebug, format, args...)
	}
}

// Error always prints regardless of verbosity.  Prefixed with [ERR].
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(zapcore.ErrorLevel, format, args...)
}

// Zap exposes the underlying zap logger for callers that want
// structured fields directly.
func (l *Logger) Zap() *zap.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.zl
}

func (l *Logger) write(lvl zapcore.Level, format string, args ...interface{}) {
	l.mu.Lock()
	zl := l.zl
	l.mu.Unlock()

	if ce := zl.Check(lvl, fmt.Sprintf(format, args...)); ce != nil {
		ce.Write()
	}
}

func (l *Logger) rebuild() {
	l.mu.Lock()
	l.rebuildLocked()
	l.mu.Unlock()
}

func (l *Logger) rebuildLocked() {
	enc := zapcore.EncoderConfig{
		MessageKey:       "msg",
		LevelKey:         "level",
		NameKey:          "logger",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      tagLevelEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	}
	if l.timestamps {
		enc.TimeKey = "ts"
		enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	}

	var encoder zapcore.Encoder
	if l.json {
		enc.EncodeLevel = nameLevelEncoder
		encoder = zapcore.NewJSONEncoder(enc)
	} else {
		encoder = zapcore.NewConsoleEncoder(enc)
	}

	// Every level is enabled at the core; Logger methods do the gating.
	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(l.output)),
		zap.LevelEnablerFunc(func(zapcore.Level) bool { return true }))
	l.zl = zap.New(core).With(l.fields...)
}

func levelTag(lvl zapcore.Level) string {
	switch {
	case lvl >= zapcore.ErrorLevel:
		return "ERR"
	case lvl == zapcore.WarnLevel:
		return "WRN"
	case lvl == zapcore.InfoLevel:
		return "INF"
	case lvl == zapVerbose:
		return "VRB"
	default:
		return "DBG"
	}
}

func tagLevelEncoder(lvl zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + levelTag(lvl) + "]")
}

func nameLevelEncoder(lvl zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch levelTag(lvl) {
	case "ERR":
		enc.AppendString("error")
	case "WRN":
		enc.AppendString("warn")
	case "INF":
		enc.AppendString("info")
	case "VRB":
		enc.AppendString("verbose")
	default:
		enc.AppendString("debug")
	}
}
