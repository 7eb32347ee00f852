package health

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeHTTP CheckType = "http"
	CheckTypeTCP  CheckType = "tcp"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is implemented by every health check
type Checker interface {
	Check(ctx context.Context) Result
	Type() CheckType
}

// ForAddress returns an HTTP checker for http(s) URLs and a TCP checker for
// host:port addresses
func ForAddress(addr string) (Checker, error) {
	switch {
	case addr == "":
		return nil, fmt.Errorf("empty health check address")
	case strings.HasPrefix(addr, "http://"), strings.HasPrefix(addr, "https://"):
		return NewHTTPChecker(addr), nil
	case strings.Contains(addr, "://"):
		return nil, fmt.Errorf("unsupported health check scheme in %q", addr)
	default:
		return NewTCPChecker(addr), nil
	}
}

// Config controls how results are folded into a Status
type Config struct {
	// Timeout bounds a single check
	Timeout time.Duration

	// Retries is the number of consecutive failures before the target is
	// considered unhealthy
	Retries int
}

// DefaultConfig returns the health check defaults
func DefaultConfig() Config {
	return Config{
		Timeout: 5 * time.Second,
		Retries: 3,
	}
}

// Status tracks the health of one target across checks
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastCheck            time.Time
	LastResult           Result
	Healthy              bool
}

// NewStatus creates a Status that starts out healthy
func NewStatus() *Status {
	return &Status{Healthy: true}
}

// Update folds result into the status and reports whether Healthy changed
func (s *Status) Update(result Result, config Config) bool {
	was := s.Healthy
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
	} else {
		s.ConsecutiveFailures++
		s.ConsecutiveSuccesses = 0
		if s.ConsecutiveFailures >= config.Retries {
			s.Healthy = false
		}
	}
	return was != s.Healthy
}

func failed(start time.Time, format string, args ...interface{}) Result {
	return Result{
		Healthy:   false,
		Message:   fmt.Sprintf(format, args...),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}
