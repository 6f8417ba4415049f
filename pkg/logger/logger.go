// Package logger defines the logging abstraction implemented by pkg/logger/logrus
// and consumed through the package-level helpers in pkg/logger/log.
package logger

import "github.com/umbrella22/ops-service/pkg/logger/conf"

// Fields is a set of structured key-value pairs attached to a log entry.
type Fields map[string]interface{}

// Logger is the minimal logging surface every component depends on.
type Logger interface {
	Log(level conf.Level, args ...interface{})
	Logf(level conf.Level, format string, args ...interface{})
	WithFields(fields Fields) Logger
}
