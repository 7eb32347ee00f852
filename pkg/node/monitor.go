package node

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/nodeboot/pkg/log"
	"github.com/cuemby/nodeboot/pkg/metrics"
)

// TickFunc is run on every console monitor tick
type TickFunc func(ctx context.Context)

// ConsoleMonitor runs a manager's periodic status check on its own goroutine
type ConsoleMonitor struct {
	role     Role
	interval time.Duration
	tick     TickFunc

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	ticks   atomic.Uint64
}

// NewConsoleMonitor creates a stopped monitor
func NewConsoleMonitor(role Role, interval time.Duration, tick TickFunc) *ConsoleMonitor {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	return &ConsoleMonitor{
		role:     role,
		interval: interval,
		tick:     tick,
	}
}

// Start launches the monitor loop. Calling Start on a running monitor does
// nothing.
func (m *ConsoleMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go m.loop(ctx, m.done)

	logger := log.WithComponent("monitor")
	logger.Debug().
		Str("role", m.role.String()).
		Dur("interval", m.interval).
		Msg("Console monitor started")
}

// Stop halts the loop and waits for an in-flight tick to finish
func (m *ConsoleMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done

	logger := log.WithComponent("monitor")
	logger.Debug().
		Str("role", m.role.String()).
		Uint64("ticks", m.Ticks()).
		Msg("Console monitor stopped")
}

// Running reports whether the loop is active
func (m *ConsoleMonitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Ticks returns how many ticks have completed
func (m *ConsoleMonitor) Ticks() uint64 {
	return m.ticks.Load()
}

func (m *ConsoleMonitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if m.tick != nil {
				m.tick(ctx)
			}
			m.ticks.Add(1)
			metrics.MonitorTicksTotal.WithLabelValues(m.role.String()).Inc()
		case <-ctx.Done():
			return
		}
	}
}
