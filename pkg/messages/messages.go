package messages

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level represents the severity of a user-facing message
type Level string

const (
	LevelCritical Level = "critical"
	LevelError    Level = "error"
	LevelWarning  Level = "warning"
	LevelInfo     Level = "info"
)

// Message is a notice that travels from the back-end to the UI
type Message struct {
	ID        string    `json:"id"`
	Level     Level     `json:"level"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Queue is an append-only collection of messages. It is created once per
// process and never reset.
type Queue struct {
	mu       sync.RWMutex
	messages []Message
}

// NewQueue creates an empty message queue
func NewQueue() *Queue {
	return &Queue{}
}

// Add appends a message with the given level and returns it
func (q *Queue) Add(level Level, text string) Message {
	msg := Message{
		ID:        uuid.New().String(),
		Level:     level,
		Text:      text,
		Timestamp: time.Now(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, msg)
	return msg
}

func (q *Queue) Critical(text string) Message {
	return q.Add(LevelCritical, text)
}

func (q *Queue) Error(text string) Message {
	return q.Add(LevelError, text)
}

func (q *Queue) Warning(text string) Message {
	return q.Add(LevelWarning, text)
}

func (q *Queue) Info(text string) Message {
	return q.Add(LevelInfo, text)
}

// List returns a copy of all messages in insertion order
func (q *Queue) List() []Message {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]Message, len(q.messages))
	copy(out, q.messages)
	return out
}

// Count returns the number of messages
func (q *Queue) Count() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.messages)
}

// CountLevel returns the number of messages at the given level
func (q *Queue) CountLevel(level Level) int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	n := 0
	for _, m := range q.messages {
		if m.Level == level {
			n++
		}
	}
	return n
}
