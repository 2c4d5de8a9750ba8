// Package obslog owns the process-wide zap logger. It is a no-op until
// InitFromEnv runs, so packages can log unconditionally.
package obslog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	FormatText = "text"
	FormatJSON = "json"

	defaultFile = "chess2.log"
)

var globalLogger = zap.NewNop()

// L returns the global logger.
func L() *zap.Logger { return globalLogger }

// With returns a child of the global logger tagged with session_id.
// Components bound to one session log through it.
func With(sessionID string) *zap.Logger {
	return globalLogger.With(zap.String("session_id", sessionID))
}

// Replace swaps the global logger and returns a func restoring the old one.
func Replace(l *zap.Logger) func() {
	prev := globalLogger
	if l == nil {
		l = zap.NewNop()
	}
	globalLogger = l
	return func() { globalLogger = prev }
}

// Settings is the logger configuration read from LOG_* variables.
type Settings struct {
	Level   zapcore.Level
	Format  string // text or json
	Console bool
	File    string // empty disables the file sink
	Caller  bool
}

// SettingsFromEnv reads LOG_LEVEL, LOG_FORMAT, LOG_TO_CONSOLE, LOG_TO_FILE,
// LOG_FILE and LOG_CALLER. Unknown formats fall back to text.
func SettingsFromEnv() Settings {
	s := Settings{
		Level:   parseLevel(os.Getenv("LOG_LEVEL")),
		Format:  FormatText,
		Console: envBool("LOG_TO_CONSOLE", true),
		Caller:  envBool("LOG_CALLER", false),
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("LOG_FORMAT")), FormatJSON) {
		s.Format = FormatJSON
	}
	if envBool("LOG_TO_FILE", true) {
		s.File = strings.TrimSpace(os.Getenv("LOG_FILE"))
		if s.File == "" {
			s.File = filepath.Join("logs", defaultFile)
		}
	}
	return s
}

// InitFromEnv builds the global logger from LOG_* variables.
func InitFromEnv() error {
	l, err := Build(SettingsFromEnv())
	if err != nil {
		return err
	}
	globalLogger = l
	return nil
}

// Build tees the configured sinks into one logger. With no sink enabled
// it still writes to stdout.
func Build(s Settings) (*zap.Logger, error) {
	enc := newEncoder(s.Format)
	var cores []zapcore.Core
	if s.Console {
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), s.Level))
	}
	if s.File != "" {
		if dir := filepath.Dir(s.File); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("log dir: %w", err)
			}
		}
		f, err := os.OpenFile(s.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(enc.Clone(), zapcore.AddSync(f), s.Level))
	}
	if len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(os.Stdout), s.Level))
	}

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if s.Caller || s.Format == FormatText {
		opts = append(opts, zap.AddCaller())
	}
	return zap.New(zapcore.NewTee(cores...), opts...), nil
}

func newEncoder(format string) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	if format == FormatJSON {
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.ConsoleSeparator = " | "
	return zapcore.NewConsoleEncoder(cfg)
}

func parseLevel(s string) zapcore.Level {
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

func envBool(k string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(k))) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return def
}
