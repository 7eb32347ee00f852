// Package node defines the contract between the bootstrap sequence and the
// role specific console managers.
package node

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/nodeboot/pkg/cloud"
	"github.com/cuemby/nodeboot/pkg/config"
	"github.com/cuemby/nodeboot/pkg/log"
	"github.com/cuemby/nodeboot/pkg/messages"
	"github.com/cuemby/nodeboot/pkg/paths"
)

// DefaultMonitorInterval is the console monitor tick period
const DefaultMonitorInterval = 10 * time.Second

// Manager is a role specific controller constructed by the dispatcher
type Manager interface {
	Role() Role
	ConsoleMonitor() *ConsoleMonitor
	// Shutdown stops the manager. deleteCluster requests removal of the
	// cluster's persisted state instead of saving it.
	Shutdown(ctx context.Context, deleteCluster bool) error
}

// Numbers hands out process-wide consecutive integers
type Numbers interface {
	Next() int
}

// Context is the application state a manager is constructed with
type Context struct {
	Config   *config.Configuration
	Messages *messages.Queue
	Sink     *log.Sink
	Numbers  Numbers
	Cloud    cloud.Interface
	Paths    *paths.Resolver

	UseObjectStore bool
	UseVolumes     bool
	TestFlag       bool
	LocalFlag      bool

	// MonitorInterval defaults to DefaultMonitorInterval
	MonitorInterval time.Duration
}

// Interval returns the configured monitor interval or the default
func (c *Context) Interval() time.Duration {
	if c.MonitorInterval <= 0 {
		return DefaultMonitorInterval
	}
	return c.MonitorInterval
}

// Next returns the next shared sequence number, or 0 when the context
// carries no generator
func (c *Context) Next() int {
	if c.Numbers == nil {
		return 0
	}
	return c.Numbers.Next()
}

// Factory constructs a manager for one role
type Factory func(ctx context.Context, nc *Context) (Manager, error)

// Registry maps each role to its manager factory
type Registry map[Role]Factory

// Build constructs the manager for role
func (r Registry) Build(ctx context.Context, role Role, nc *Context) (Manager, error) {
	factory, ok := r[role]
	if !ok || factory == nil {
		return nil, fmt.Errorf("no manager registered for role %q", role)
	}
	return factory(ctx, nc)
}
