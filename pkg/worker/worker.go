package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/nodeboot/pkg/config"
	"github.com/cuemby/nodeboot/pkg/health"
	"github.com/cuemby/nodeboot/pkg/log"
	"github.com/cuemby/nodeboot/pkg/metrics"
	"github.com/cuemby/nodeboot/pkg/node"
)

// ComponentCoordinator is the health component fed by the coordinator check
const ComponentCoordinator = "coordinator"

// ConsoleManager is the worker side manager
type ConsoleManager struct {
	nc      *node.Context
	monitor *node.ConsoleMonitor
	started time.Time

	checker     health.Checker
	checkConfig health.Config

	mu          sync.Mutex
	shutdown    bool
	lastBeat    time.Time
	lastSeq     int
	coordinator *health.Status
}

// Factory builds a worker for the role registry
func Factory(ctx context.Context, nc *node.Context) (node.Manager, error) {
	return NewConsoleManager(ctx, nc)
}

// NewConsoleManager creates a worker manager with a stopped console monitor
func NewConsoleManager(ctx context.Context, nc *node.Context) (*ConsoleManager, error) {
	if nc == nil || nc.Config == nil {
		return nil, errors.New("worker requires a configuration")
	}

	w := &ConsoleManager{
		nc:      nc,
		started: time.Now(),
	}
	w.monitor = node.NewConsoleMonitor(node.RoleWorker, nc.Interval(), w.heartbeat)

	if addr := nc.Config.GetString(config.KeyCoordinatorAddr, ""); addr != "" {
		checker, err := health.ForAddress(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", config.KeyCoordinatorAddr, err)
		}
		w.checker = checker
		w.checkConfig = health.DefaultConfig()
		w.coordinator = health.NewStatus()
		metrics.RegisterComponent(ComponentCoordinator, true, "awaiting first check")
	}

	metrics.ManagerUp.WithLabelValues(node.RoleWorker.String()).Set(1)
	logger := log.WithRole(node.RoleWorker.Label())
	logger.Info().
		Str("cluster", nc.Config.GetString("cluster_name", "")).
		Bool("use_volumes", nc.UseVolumes).
		Msg("Worker console manager created")

	return w, nil
}

func (w *ConsoleManager) Role() node.Role {
	return node.RoleWorker
}

func (w *ConsoleManager) ConsoleMonitor() *node.ConsoleMonitor {
	return w.monitor
}

// LastHeartbeat returns the time of the latest monitor tick
func (w *ConsoleManager) LastHeartbeat() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastBeat
}

// LastHeartbeatSeq returns the sequence number of the latest heartbeat
func (w *ConsoleManager) LastHeartbeatSeq() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeq
}

// CoordinatorStatus returns a copy of the coordinator check status, or nil
// when no coordinator address is configured
func (w *ConsoleManager) CoordinatorStatus() *health.Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.coordinator == nil {
		return nil
	}
	s := *w.coordinator
	return &s
}

// Shutdown stops the console monitor. Workers hold no cluster state, so
// deleteCluster has no effect beyond being logged.
func (w *ConsoleManager) Shutdown(ctx context.Context, deleteCluster bool) error {
	w.mu.Lock()
	if w.shutdown {
		w.mu.Unlock()
		return nil
	}
	w.shutdown = true
	w.mu.Unlock()

	w.monitor.Stop()
	metrics.ManagerUp.WithLabelValues(node.RoleWorker.String()).Set(0)

	logger := log.WithRole(node.RoleWorker.Label())
	logger.Info().
		Bool("delete_cluster", deleteCluster).
		Dur("uptime", time.Since(w.started)).
		Msg("Worker shut down")
	return nil
}

func (w *ConsoleManager) heartbeat(ctx context.Context) {
	seq := w.nc.Next()

	w.mu.Lock()
	w.lastBeat = time.Now()
	w.lastSeq = seq
	w.mu.Unlock()

	logger := log.WithRole(node.RoleWorker.Label())
	logger.Debug().
		Int("seq", seq).
		Str("cluster", w.nc.Config.GetString("cluster_name", "")).
		Int("deployment_version", w.nc.Config.GetInt(config.KeyDeploymentVersion, 0)).
		Msg("Worker heartbeat")

	if w.checker != nil {
		w.checkCoordinator(ctx)
	}
}

func (w *ConsoleManager) checkCoordinator(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, w.checkConfig.Timeout)
	defer cancel()
	result := w.checker.Check(checkCtx)

	w.mu.Lock()
	changed := w.coordinator.Update(result, w.checkConfig)
	healthy := w.coordinator.Healthy
	w.mu.Unlock()

	metrics.UpdateComponent(ComponentCoordinator, healthy, result.Message)

	if !changed {
		return
	}
	logger := log.WithRole(node.RoleWorker.Label())
	if healthy {
		logger.Info().Str("check", string(w.checker.Type())).Msg("Coordinator reachable again")
	} else {
		logger.Warn().Str("check", string(w.checker.Type())).Str("result", result.Message).Msg("Coordinator unreachable")
		if w.nc.Messages != nil {
			w.nc.Messages.Warning("Coordinator unreachable: " + result.Message)
		}
	}
}
