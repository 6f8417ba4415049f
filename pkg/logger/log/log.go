// Package log exposes a process-wide default logger through package-level
// functions so callers never need to thread a logger.Logger value through
// every call site.
package log

import (
	"os"
	"sync"

	"github.com/umbrella22/ops-service/pkg/logger"
	"github.com/umbrella22/ops-service/pkg/logger/conf"
	logruswrap "github.com/umbrella22/ops-service/pkg/logger/logrus"
)

var (
	mu           sync.RWMutex
	globalLogger logger.Logger
)

// InitGlobalLogger builds and installs the process-wide default logger.
func InitGlobalLogger(cfg *conf.LogConfig) error {
	l, err := NewLogger(cfg)
	if err != nil {
		return err
	}
	SetGlobalLogger(l)
	return nil
}

// NewLogger builds an independent logger instance from the given config,
// without touching the global default.
func NewLogger(cfg *conf.LogConfig) (logger.Logger, error) {
	if cfg == nil {
		cfg = conf.DefaultConfig()
	}
	switch cfg.Core {
	case "", "logrus":
		return logruswrap.NewLogrusWrapper(cfg)
	default:
		return logruswrap.NewLogrusWrapper(cfg)
	}
}

// GlobalLogger returns the current process-wide default logger, initializing
// one from conf.DefaultConfig() if none has been set yet.
func GlobalLogger() logger.Logger {
	mu.RLock()
	l := globalLogger
	mu.RUnlock()
	if l != nil {
		return l
	}

	mu.Lock()
	defer mu.Unlock()
	if globalLogger == nil {
		wrapped, err := logruswrap.NewLogrusWrapper(conf.DefaultConfig())
		if err != nil {
			panic(err)
		}
		globalLogger = wrapped
	}
	return globalLogger
}

// SetGlobalLogger replaces the process-wide default logger.
func SetGlobalLogger(l logger.Logger) {
	mu.Lock()
	defer mu.Unlock()
	globalLogger = l
}

// Log dispatches to the global logger at the given level.
func Log(level conf.Level, args ...interface{}) {
	GlobalLogger().Log(level, args...)
}

// Logf dispatches a formatted message to the global logger at the given level.
func Logf(level conf.Level, format string, args ...interface{}) {
	GlobalLogger().Logf(level, format, args...)
}

func Trace(args ...interface{})                 { Log(conf.TraceLevel, args...) }
func Tracef(format string, args ...interface{}) { Logf(conf.TraceLevel, format, args...) }
func Debug(args ...interface{})                 { Log(conf.DebugLevel, args...) }
func Debugf(format string, args ...interface{}) { Logf(conf.DebugLevel, format, args...) }
func Info(args ...interface{})                  { Log(conf.InfoLevel, args...) }
func Infof(format string, args ...interface{})  { Logf(conf.InfoLevel, format, args...) }
func Warn(args ...interface{})                  { Log(conf.WarnLevel, args...) }
func Warnf(format string, args ...interface{})  { Logf(conf.WarnLevel, format, args...) }
func Error(args ...interface{})                 { Log(conf.ErrorLevel, args...) }
func Errorf(format string, args ...interface{}) { Logf(conf.ErrorLevel, format, args...) }

func Fatal(args ...interface{}) {
	Log(conf.FatalLevel, args...)
	os.Exit(1)
}

func Fatalf(format string, args ...interface{}) {
	Logf(conf.FatalLevel, format, args...)
	os.Exit(1)
}

// WithFields returns a logger derived from the global default, carrying the
// given structured fields.
func WithFields(fields logger.Fields) logger.Logger {
	return GlobalLogger().WithFields(fields)
}
