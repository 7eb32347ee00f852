package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/cuemby/nodeboot/pkg/config"
	"github.com/cuemby/nodeboot/pkg/log"
	"github.com/cuemby/nodeboot/pkg/metrics"
	"github.com/cuemby/nodeboot/pkg/node"
	"github.com/cuemby/nodeboot/pkg/objectstore"
	"github.com/cuemby/nodeboot/pkg/persistent"
)

// excludedKeys are user-data keys never written into a saved snapshot.
// Role and flags belong to the instance, credentials must not reach the
// bucket.
var excludedKeys = []string{
	config.KeyRole,
	config.KeyTestFlag,
	config.KeyLocalFlag,
	config.KeyAccessKey,
	config.KeySecretKey,
}

// ConsoleManager is the coordinator side manager
type ConsoleManager struct {
	nc      *node.Context
	monitor *node.ConsoleMonitor
	started time.Time

	mu       sync.Mutex
	shutdown bool
	status   ClusterStatus
}

// ClusterStatus is the report produced by each console monitor tick
type ClusterStatus struct {
	// Seq is drawn from the application number generator
	Seq               int
	DeploymentVersion int
	Services          int
	Messages          int
	LogLines          int
	Uptime            time.Duration
	CheckedAt         time.Time
}

// Factory builds a coordinator for the role registry
func Factory(ctx context.Context, nc *node.Context) (node.Manager, error) {
	return NewConsoleManager(ctx, nc)
}

// NewConsoleManager creates a coordinator manager. The console monitor is
// created stopped.
func NewConsoleManager(ctx context.Context, nc *node.Context) (*ConsoleManager, error) {
	if nc == nil || nc.Config == nil {
		return nil, errors.New("coordinator requires a configuration")
	}

	if nc.Paths != nil {
		if err := os.MkdirAll(nc.Paths.RoleDir(), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	m := &ConsoleManager{
		nc:      nc,
		started: time.Now(),
	}
	m.monitor = node.NewConsoleMonitor(node.RoleCoordinator, nc.Interval(), m.checkStatus)

	metrics.ManagerUp.WithLabelValues(node.RoleCoordinator.String()).Set(1)
	logger := log.WithRole(node.RoleCoordinator.Label())
	logger.Info().
		Str("cluster", nc.Config.GetString("cluster_name", "")).
		Bool("use_object_store", nc.UseObjectStore).
		Bool("use_volumes", nc.UseVolumes).
		Msg("Coordinator console manager created")

	return m, nil
}

func (m *ConsoleManager) Role() node.Role {
	return node.RoleCoordinator
}

func (m *ConsoleManager) ConsoleMonitor() *node.ConsoleMonitor {
	return m.monitor
}

// Shutdown stops the console monitor and then either saves the cluster's
// persistent data or, when deleteCluster is set, removes it. Every target
// is attempted; failures are aggregated. Repeated calls do nothing.
func (m *ConsoleManager) Shutdown(ctx context.Context, deleteCluster bool) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	m.mu.Unlock()

	logger := log.WithRole(node.RoleCoordinator.Label())
	logger.Info().Bool("delete_cluster", deleteCluster).Msg("Shutting down coordinator")

	m.monitor.Stop()
	metrics.ManagerUp.WithLabelValues(node.RoleCoordinator.String()).Set(0)

	var err error
	if deleteCluster {
		err = m.deletePersistentData(ctx)
	} else {
		err = m.savePersistentData(ctx)
	}
	if err != nil {
		logger.Error().Err(err).Msg("Coordinator shutdown incomplete")
		return err
	}

	logger.Info().Dur("uptime", time.Since(m.started)).Msg("Coordinator shut down")
	return nil
}

// Snapshot returns the persistent data the coordinator would save
func (m *ConsoleManager) Snapshot() persistent.Snapshot {
	ud := m.nc.Config.UserData()
	for _, k := range excludedKeys {
		delete(ud, k)
	}
	ud[config.KeyPersistentDataVersion] = persistent.PersistentDataVersion
	return persistent.Snapshot(ud)
}

func (m *ConsoleManager) savePersistentData(ctx context.Context) error {
	logger := log.WithRole(node.RoleCoordinator.Label())
	snap := m.Snapshot()

	var result *multierror.Error

	if path := m.instanceFile(); path != "" {
		if err := persistent.WriteFile(path, snap); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to save instance persistent data: %w", err))
			metrics.PDSavesTotal.WithLabelValues("local", "error").Inc()
		} else {
			metrics.PDSavesTotal.WithLabelValues("local", "ok").Inc()
			logger.Debug().Str("path", path).Msg("Saved instance persistent data")
		}
	}

	bucket, ok := m.bucket()
	if ok {
		data, err := persistent.Marshal(snap)
		if err == nil {
			var store objectstore.Store
			if store, err = m.store(ctx); err == nil {
				err = store.Put(ctx, bucket, persistent.RemoteFileName, data)
			}
		}
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to upload persistent data: %w", err))
			metrics.PDSavesTotal.WithLabelValues("bucket", "error").Inc()
		} else {
			metrics.PDSavesTotal.WithLabelValues("bucket", "ok").Inc()
			logger.Debug().Str("bucket", bucket).Msg("Uploaded persistent data")
		}
	}

	return result.ErrorOrNil()
}

func (m *ConsoleManager) deletePersistentData(ctx context.Context) error {
	logger := log.WithRole(node.RoleCoordinator.Label())

	var result *multierror.Error

	if path := m.instanceFile(); path != "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			result = multierror.Append(result, fmt.Errorf("failed to remove instance persistent data: %w", err))
		} else {
			logger.Debug().Str("path", path).Msg("Removed instance persistent data")
		}
	}

	if bucket, ok := m.bucket(); ok {
		store, err := m.store(ctx)
		if err == nil {
			err = store.Delete(ctx, bucket, persistent.RemoteFileName)
		}
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to delete bucket persistent data: %w", err))
		} else {
			logger.Debug().Str("bucket", bucket).Msg("Deleted bucket persistent data")
		}
	}

	return result.ErrorOrNil()
}

func (m *ConsoleManager) instanceFile() string {
	if m.nc.Paths == nil {
		return ""
	}
	return m.nc.Paths.InstancePDFile()
}

// bucket returns the cluster bucket when bucket writes are enabled
func (m *ConsoleManager) bucket() (string, bool) {
	if !m.nc.UseObjectStore || m.nc.TestFlag || m.nc.Cloud == nil {
		return "", false
	}
	bucket := m.nc.Config.GetString(config.KeyBucketCluster, "")
	return bucket, bucket != ""
}

func (m *ConsoleManager) store(ctx context.Context) (objectstore.Store, error) {
	store, err := m.nc.Cloud.ObjectStore(ctx, m.nc.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to object store: %w", err)
	}
	return store, nil
}

// LastStatus returns the latest cluster status report. Seq is zero before
// the first tick.
func (m *ConsoleManager) LastStatus() ClusterStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// checkStatus is the console monitor tick
func (m *ConsoleManager) checkStatus(ctx context.Context) {
	cfg := m.nc.Config

	status := ClusterStatus{
		Seq:               m.nc.Next(),
		DeploymentVersion: cfg.GetInt(config.KeyDeploymentVersion, 0),
		Uptime:            time.Since(m.started),
		CheckedAt:         time.Now(),
	}
	if m.nc.Messages != nil {
		status.Messages = m.nc.Messages.Count()
	}
	if m.nc.Sink != nil {
		status.LogLines = m.nc.Sink.Len()
	}
	if s, ok := cfg.UserData()[config.KeyServices].(map[string]interface{}); ok {
		status.Services = len(s)
	}

	m.mu.Lock()
	m.status = status
	m.mu.Unlock()

	logger := log.WithRole(node.RoleCoordinator.Label())
	logger.Debug().
		Int("seq", status.Seq).
		Str("cluster", cfg.GetString("cluster_name", "")).
		Int("deployment_version", status.DeploymentVersion).
		Int("services", status.Services).
		Int("messages", status.Messages).
		Int("log_lines", status.LogLines).
		Dur("uptime", status.Uptime).
		Msg("Cluster status")
}
