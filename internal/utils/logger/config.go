// internal/utils/logger/config.go
package logger

// Config controls where and how the simulator logs.
type Config struct {
	// LogFile receives JSON logs; empty disables the file sink.
	LogFile    string
	MaxSize    int // megabytes
	MaxAge     int // days
	MaxBackups int
	Compress   bool
	// Level is a zap level name. Development forces debug.
	Level       string
	Development bool
	// Quiet drops the console sink, for full-screen views.
	Quiet bool
	// Buffer, when set, also receives every entry.
	Buffer *LogBuffer
}

// DefaultConfig returns the default logging config.
func DefaultConfig() *Config {
	return &Config{
		LogFile:    "curvesale.log",
		MaxSize:    50,
		MaxAge:     7,
		MaxBackups: 3,
		Compress:   true,
		Level:      "info",
	}
}
