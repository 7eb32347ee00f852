package log

import (
	"bytes"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// DefaultSinkCapacity bounds the UI log buffer. Long-running coordinators
// produce enough output that an unbounded buffer degrades any poller.
const DefaultSinkCapacity = 1000

// Sink is a fixed-capacity ring of formatted log lines kept for the UI.
// It is safe for concurrent Append and Snapshot.
type Sink struct {
	mu      sync.Mutex
	lines   []string
	next    int // write cursor
	size    int
	evicted uint64

	level     atomic.Int32
	formatter zerolog.ConsoleWriter
}

// NewSink creates a sink holding at most capacity lines. A non-positive
// capacity falls back to DefaultSinkCapacity.
func NewSink(capacity int) *Sink {
	if capacity <= 0 {
		capacity = DefaultSinkCapacity
	}

	s := &Sink{
		lines: make([]string, capacity),
		formatter: zerolog.ConsoleWriter{
			NoColor:    true,
			TimeFormat: "15:04:05",
			PartsOrder: []string{
				zerolog.TimestampFieldName,
				zerolog.LevelFieldName,
				zerolog.MessageFieldName,
			},
		},
	}
	s.level.Store(int32(zerolog.InfoLevel))
	return s
}

// Append adds a line, evicting the oldest one when the sink is full.
func (s *Sink) Append(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lines[s.next] = line
	s.next = (s.next + 1) % len(s.lines)
	if s.size < len(s.lines) {
		s.size++
	} else {
		s.evicted++
	}
}

// Snapshot returns the buffered lines oldest first without consuming them.
func (s *Sink) Snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, s.size)
	start := (s.next - s.size + len(s.lines)) % len(s.lines)
	for i := 0; i < s.size; i++ {
		out = append(out, s.lines[(start+i)%len(s.lines)])
	}
	return out
}

// Len returns the number of buffered lines
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Cap returns the sink capacity
func (s *Sink) Cap() int {
	return len(s.lines)
}

// Evicted returns how many lines have been dropped to make room.
func (s *Sink) Evicted() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evicted
}

// SetLevel sets the minimum level of events accepted by WriteLevel.
func (s *Sink) SetLevel(level zerolog.Level) {
	s.level.Store(int32(level))
}

// Level returns the current threshold
func (s *Sink) Level() zerolog.Level {
	return zerolog.Level(s.level.Load())
}

// Write implements io.Writer for events that carry no level.
func (s *Sink) Write(p []byte) (int, error) {
	return s.WriteLevel(zerolog.NoLevel, p)
}

// WriteLevel implements zerolog.LevelWriter. Accepted events are rendered
// as a single human readable line.
func (s *Sink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < s.Level() {
		return len(p), nil
	}

	var buf bytes.Buffer
	w := s.formatter
	w.Out = &buf
	if _, err := w.Write(p); err != nil {
		return 0, err
	}

	s.Append(strings.TrimRight(buf.String(), "\n"))
	return len(p), nil
}
