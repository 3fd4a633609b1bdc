package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the service's root zap logger. Its level can be changed at
// runtime through Level.
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
}

// Config selects level, format and outputs.
type Config struct {
	Level       string
	Development bool
	OutputPaths []string
}

// New builds a logger. Production output is sampled JSON with stack traces
// only on errors; development output is colored console text.
func New(cfg Config) (*Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.MessageKey = "message"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zc.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = outputs

	base, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: base.With(zap.String("service", "nasma")), level: zc.Level}, nil
}

// FromSettings builds a logger from LOG_LEVEL and LOG_DEV. An invalid level
// falls back to info, or debug in development, and says so.
func FromSettings(level string, development bool) *Logger {
	fallback := "info"
	if development {
		fallback = "debug"
	}
	if level == "" {
		level = fallback
	}
	l, err := New(Config{Level: level, Development: development})
	if err == nil {
		return l
	}
	if l, err2 := New(Config{Level: fallback, Development: development}); err2 == nil {
		l.Warn("invalid log level, using fallback", zap.String("level", level), zap.String("fallback", fallback))
		return l
	}
	return Nop()
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zap.NewNop(), level: zap.NewAtomicLevel()}
}

// Level exposes the runtime level, which also serves as an http.Handler.
func (l *Logger) Level() zap.AtomicLevel {
	return l.level
}

// Component returns a named child logger for one subsystem.
func (l *Logger) Component(name string) *zap.Logger {
	return l.Logger.Named(name)
}

// ForThread returns a child logger carrying the conversation thread.
func (l *Logger) ForThread(threadID string) *zap.Logger {
	return l.Logger.With(zap.String("thread_id", threadID))
}
