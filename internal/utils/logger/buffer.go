// internal/utils/logger/buffer.go
package logger

import (
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// LogEntry is a single captured log line.
type LogEntry struct {
	Timestamp time.Time
	Level     zapcore.Level
	Logger    string
	Message   string
}

// LogBuffer is a thread-safe ring of the most recent log entries. The
// dashboard renders it in place of a console sink.
type LogBuffer struct {
	mu           sync.Mutex
	ring         []LogEntry
	maxSize      int
	currentIndex int
	wrapped      bool
	totalEntries uint64
}

// NewLogBuffer creates a buffer holding up to maxSize entries.
func NewLogBuffer(maxSize int) *LogBuffer {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &LogBuffer{
		ring:    make([]LogEntry, maxSize),
		maxSize: maxSize,
	}
}

// Add appends an entry, overwriting the oldest once full.
func (lb *LogBuffer) Add(entry LogEntry) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.ring[lb.currentIndex] = entry
	lb.currentIndex = (lb.currentIndex + 1) % lb.maxSize
	if lb.currentIndex == 0 {
		lb.wrapped = true
	}
	lb.totalEntries++
}

// Recent returns up to limit of the newest entries, oldest first. A
// non-positive limit returns everything held.
func (lb *LogBuffer) Recent(limit int) []LogEntry {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	count := lb.currentIndex
	start := 0
	if lb.wrapped {
		count = lb.maxSize
		start = lb.currentIndex
	}
	skip := 0
	if limit > 0 && limit < count {
		skip = count - limit
	}

	out := make([]LogEntry, 0, count-skip)
	for i := skip; i < count; i++ {
		out = append(out, lb.ring[(start+i)%lb.maxSize])
	}
	return out
}

// Total reports how many entries were ever added.
func (lb *LogBuffer) Total() uint64 {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.totalEntries
}

// bufferCore feeds a LogBuffer from zap. Fields are dropped; the dashboard
// shows messages only.
type bufferCore struct {
	zapcore.LevelEnabler
	buffer *LogBuffer
}

func newBufferCore(buffer *LogBuffer, level zapcore.LevelEnabler) zapcore.Core {
	return &bufferCore{LevelEnabler: level, buffer: buffer}
}

func (c *bufferCore) With([]zapcore.Field) zapcore.Core { return c }

func (c *bufferCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *bufferCore) Write(entry zapcore.Entry, _ []zapcore.Field) error {
	c.buffer.Add(LogEntry{
		Timestamp: entry.Time,
		Level:     entry.Level,
		Logger:    entry.LoggerName,
		Message:   entry.Message,
	})
	return nil
}

func (c *bufferCore) Sync() error { return nil }
