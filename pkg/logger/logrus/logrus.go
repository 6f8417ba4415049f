// Package logrus adapts sirupsen/logrus to the pkg/logger.Logger interface.
package logrus

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/umbrella22/ops-service/pkg/logger"
	"github.com/umbrella22/ops-service/pkg/logger/conf"
)

// Wrapper implements logger.Logger on top of a *logrus.Entry.
type Wrapper struct {
	entry *logrus.Entry
}

// NewLogrusWrapper builds a Wrapper from the given config.
func NewLogrusWrapper(cfg *conf.LogConfig) (*Wrapper, error) {
	if cfg == nil {
		cfg = conf.DefaultConfig()
	}

	base := logrus.New()
	base.SetLevel(toLogrusLevel(cfg.Level))

	if cfg.Format == "json" {
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	switch cfg.Output {
	case "", "stdout":
		base.SetOutput(os.Stdout)
	case "stderr":
		base.SetOutput(os.Stderr)
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		base.SetOutput(f)
	}

	return &Wrapper{entry: logrus.NewEntry(base)}, nil
}

func toLogrusLevel(l conf.Level) logrus.Level {
	switch l {
	case conf.FatalLevel:
		return logrus.FatalLevel
	case conf.ErrorLevel:
		return logrus.ErrorLevel
	case conf.WarnLevel:
		return logrus.WarnLevel
	case conf.InfoLevel:
		return logrus.InfoLevel
	case conf.DebugLevel:
		return logrus.DebugLevel
	case conf.TraceLevel:
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

// Log emits a single log line at the given level.
func (w *Wrapper) Log(level conf.Level, args ...interface{}) {
	w.entry.Log(toLogrusLevel(level), args...)
}

// Logf emits a formatted log line at the given level.
func (w *Wrapper) Logf(level conf.Level, format string, args ...interface{}) {
	w.entry.Logf(toLogrusLevel(level), format, args...)
}

// WithFields returns a derived logger carrying the given structured fields.
func (w *Wrapper) WithFields(fields logger.Fields) logger.Logger {
	return &Wrapper{entry: w.entry.WithFields(logrus.Fields(fields))}
}
