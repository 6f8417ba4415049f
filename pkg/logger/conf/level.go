package conf

// Level is a logging severity level.
type Level uint32

const (
	FatalLevel Level = iota
	ErrorLevel
	WarnLevel
	InfoLevel
	DebugLevel
	TraceLevel
)

// LogConfig controls the global logger.
type LogConfig struct {
	Core      string `json:"core" yaml:"core"`
	Level     Level  `json:"level" yaml:"level"`
	Format    string `json:"format" yaml:"format"` // "text" or "json"
	Output    string `json:"output" yaml:"output"` // "stdout", "stderr" or a file path
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() *LogConfig {
	return &LogConfig{
		Core:   "logrus",
		Level:  InfoLevel,
		Format: "text",
		Output: "stdout",
	}
}
