package metrics

import (
	"sync"
	"time"

	"github.com/cuemby/nodeboot/pkg/messages"
)

// DefaultCollectInterval is how often the collector refreshes its gauges
const DefaultCollectInterval = 15 * time.Second

// SinkStats is the view of the log sink the collector polls
type SinkStats interface {
	Len() int
	Evicted() uint64
}

// MessageStats is the view of the message queue the collector polls
type MessageStats interface {
	CountLevel(level messages.Level) int
}

// Collector mirrors in-memory bootstrap state into gauges
type Collector struct {
	sink     SinkStats
	messages MessageStats
	interval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewCollector creates a new metrics collector. Either source may be nil.
func NewCollector(sink SinkStats, msgs MessageStats) *Collector {
	return &Collector{
		sink:     sink,
		messages: msgs,
		interval: DefaultCollectInterval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		defer close(c.doneCh)
		defer ticker.Stop()

		// Collect immediately on start
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop stops the collector and waits for the loop to exit
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		<-c.doneCh
	})
}

// Collect refreshes every gauge once
func (c *Collector) Collect() {
	if c.sink != nil {
		LogSinkLines.Set(float64(c.sink.Len()))
		LogSinkEvicted.Set(float64(c.sink.Evicted()))
	}

	if c.messages != nil {
		for _, level := range []messages.Level{
			messages.LevelCritical,
			messages.LevelError,
			messages.LevelWarning,
			messages.LevelInfo,
		} {
			MessagesTotal.WithLabelValues(string(level)).Set(float64(c.messages.CountLevel(level)))
		}
	}
}
