package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls the process-wide logger.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // console or json
	File       string // empty = stderr only
	MaxSizeMB  int
	MaxBackups int
}

var (
	mu   sync.RWMutex
	root = zap.New(newCore(zapcore.InfoLevel, "console", zapcore.AddSync(os.Stderr)))
)

// Init replaces the root logger. Loggers obtained from L before Init keep
// working because they resolve the root on every call.
func Init(cfg Config) {
	var out zapcore.WriteSyncer = zapcore.AddSync(os.Stderr)
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 10),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
		}
		out = zapcore.NewMultiWriteSyncer(out, zapcore.AddSync(rotator))
	}

	logger := zap.New(newCore(ParseLevel(cfg.Level), cfg.Format, out))

	mu.Lock()
	root = logger
	mu.Unlock()
}

// SetOutput points the root logger at w. Used by tests that assert on log lines.
func SetOutput(w io.Writer) {
	logger := zap.New(newCore(zapcore.DebugLevel, "console", zapcore.AddSync(w)))
	mu.Lock()
	root = logger
	mu.Unlock()
}

// Sync flushes buffered entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}

// Logger is a named, lazily resolved sugared logger.
type Logger struct {
	name string
}

// L returns the logger for a component.
func L(component string) *Logger {
	return &Logger{name: component}
}

func (l *Logger) sugar() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return root.Named(l.name).Sugar()
}

func (l *Logger) Debugf(template string, args ...any) { l.sugar().Debugf(template, args...) }
func (l *Logger) Infof(template string, args ...any)  { l.sugar().Infof(template, args...) }
func (l *Logger) Warnf(template string, args ...any)  { l.sugar().Warnf(template, args...) }
func (l *Logger) Errorf(template string, args ...any) { l.sugar().Errorf(template, args...) }

// Infow logs with structured key/value pairs.
func (l *Logger) Infow(msg string, keysAndValues ...any) { l.sugar().Infow(msg, keysAndValues...) }
func (l *Logger) Warnw(msg string, keysAndValues ...any) { l.sugar().Warnw(msg, keysAndValues...) }

// ParseLevel maps a config string to a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
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

func newCore(level zapcore.Level, format string, out zapcore.WriteSyncer) zapcore.Core {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if strings.EqualFold(format, "json") {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	return zapcore.NewCore(enc, out, level)
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
