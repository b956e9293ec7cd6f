// Package logger builds the zap logger for one CLI session. The logger writes JSON lines to
// a per-session file under the project's .agent-cloud/logs directory and, in debug mode,
// human-readable lines to stderr.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Options struct {
	Level string
	// Dir is where deployment-<session>.log is written. Empty disables the file.
	Dir       string
	SessionID string
	Debug     bool
	// Console overrides stderr for the debug console core.
	Console io.Writer
}

// Session owns the logger and its log file.
type Session struct {
	*zap.Logger
	ID   string
	Path string
	file *os.File
}

func timeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
}

// ParseLevel maps debug/info/warn/error (and "success", which logs at info) to a zap level.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// LogPath returns the session log file path inside dir.
func LogPath(dir, sessionID string) string {
	return filepath.Join(dir, fmt.Sprintf("deployment-%s.log", sessionID))
}

func New(opts Options) (*Session, error) {
	level := ParseLevel(opts.Level)
	if opts.Debug {
		level = zapcore.DebugLevel
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     timeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	s := &Session{ID: opts.SessionID}
	var cores []zapcore.Core

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		s.Path = LogPath(opts.Dir, opts.SessionID)
		f, err := os.OpenFile(s.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		s.file = f
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(f), level))
	}

	if opts.Debug {
		console := opts.Console
		if console == nil {
			console = os.Stderr
		}
		consoleConfig := encoderConfig
		consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleConfig.ConsoleSeparator = " "
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleConfig), zapcore.AddSync(console), level))
	}

	if len(cores) == 0 {
		s.Logger = zap.NewNop()
		return s, nil
	}

	zopts := []zap.Option{zap.AddCaller()}
	if opts.Debug {
		zopts = append(zopts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	s.Logger = zap.New(zapcore.NewTee(cores...), zopts...).With(zap.String("session", opts.SessionID))
	return s, nil
}

// Close flushes buffered entries and closes the log file.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	_ = s.Logger.Sync()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
