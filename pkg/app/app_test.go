package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/nodeboot/pkg/cloud"
	"github.com/cuemby/nodeboot/pkg/config"
	"github.com/cuemby/nodeboot/pkg/manager"
	"github.com/cuemby/nodeboot/pkg/messages"
	"github.com/cuemby/nodeboot/pkg/node"
	"github.com/cuemby/nodeboot/pkg/persistent"
)

type fixture struct {
	dir  string
	opts Options
}

func newFixture(t *testing.T, ud map[string]interface{}) *fixture {
	t.Helper()
	dir := t.TempDir()

	f := &fixture{
		dir: dir,
		opts: Options{
			CloudType:       cloud.TypeDummy,
			DataDir:         dir,
			UserDataFile:    filepath.Join(dir, "userData.yaml"),
			InstancePDFile:  filepath.Join(dir, "persistent_data-current.yaml"),
			MonitorInterval: time.Hour,
		},
	}
	if ud != nil {
		data, err := yaml.Marshal(ud)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(f.opts.UserDataFile, data, 0600))
	}
	return f
}

func (f *fixture) writeInstancePD(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(f.opts.InstancePDFile, []byte(content), 0600))
}

func (f *fixture) boot(t *testing.T) *Application {
	t.Helper()
	a, err := New(context.Background(), f.opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = a.Shutdown(context.Background(), false)
		_ = a.Close()
	})
	return a
}

func TestNew_FreshBoot(t *testing.T) {
	f := newFixture(t, map[string]interface{}{
		"use_object_store": false,
		"cluster_name":     "fresh",
	})

	a := f.boot(t)

	assert.Equal(t, persistent.SourceNone, a.PDSource)
	assert.Equal(t, persistent.DeploymentVersion, a.Config.GetInt(config.KeyDeploymentVersion, 0))
	assert.Equal(t, "fresh", a.Config.GetString("cluster_name", ""))
	assert.Nil(t, a.Manager())
	assert.Equal(t, StateUninitialized, a.State())
	assert.False(t, a.UseObjectStore)
}

func TestNew_LocalPersistentData(t *testing.T) {
	f := newFixture(t, map[string]interface{}{"role": "master"})
	f.writeInstancePD(t, "deployment_version: 1\nservices:\n  sge: true\n")

	a := f.boot(t)

	assert.Equal(t, persistent.SourceLocal, a.PDSource)
	assert.Equal(t, 1, a.Config.GetInt(config.KeyDeploymentVersion, 0))
	services, ok := a.Config.UserData()["services"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, services["sge"])
}

func TestNew_BucketPersistentDataWins(t *testing.T) {
	f := newFixture(t, map[string]interface{}{
		"role":           "master",
		"bucket_cluster": "cm-1",
		"access_key":     "AKIA",
	})
	f.writeInstancePD(t, "cluster_name: from-local\n")

	c := cloud.NewLocal(cloud.TypeDummy, f.opts.UserDataFile, f.dir)
	t.Cleanup(func() { c.Close() })
	store, err := c.ObjectStore(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), "cm-1", persistent.RemoteFileName,
		[]byte("cluster_name: from-bucket\n")))
	f.opts.Cloud = c

	a := f.boot(t)

	assert.Equal(t, persistent.SourceBucket, a.PDSource)
	assert.Equal(t, "from-bucket", a.Config.GetString("cluster_name", ""))
}

func TestNew_TestFlagSkipsBucket(t *testing.T) {
	f := newFixture(t, map[string]interface{}{
		"bucket_cluster": "cm-1",
		"testflag":       true,
	})

	a := f.boot(t)

	assert.True(t, a.TestFlag)
	assert.Equal(t, persistent.SourceNone, a.PDSource)
	assert.NoFileExists(t, filepath.Join(f.dir, "objectstore.db"), "object store must not be opened")
}

func TestNew_ValidationErrorAbortsBeforeResolve(t *testing.T) {
	f := newFixture(t, map[string]interface{}{
		"use_object_store": "sometimes",
		"bucket_cluster":   "",
	})
	f.writeInstancePD(t, "cluster_name: c\n")

	a, err := New(context.Background(), f.opts)
	require.Error(t, err)
	assert.Nil(t, a)

	var ve *config.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, []string{config.KeyUseObjectStore, config.KeyBucketCluster}, ve.Fields())
}

func TestNew_OverridesWin(t *testing.T) {
	f := newFixture(t, map[string]interface{}{"role": "worker", "use_object_store": false})
	f.opts.Overrides = map[string]interface{}{"role": "master"}

	a := f.boot(t)
	assert.Equal(t, "master", a.Config.GetString(config.KeyRole, ""))
}

func TestNew_DerivedFlags(t *testing.T) {
	tests := []struct {
		name          string
		ud            map[string]interface{}
		wantObjStore  bool
		wantVolumes   bool
		wantTest      bool
		wantLocal     bool
		wantSinkLevel zerolog.Level
	}{
		{
			name:          "defaults on dummy cloud",
			ud:            map[string]interface{}{},
			wantObjStore:  true,
			wantVolumes:   false,
			wantSinkLevel: zerolog.InfoLevel,
		},
		{
			name:          "explicit volumes",
			ud:            map[string]interface{}{"use_volumes": true, "use_object_store": false},
			wantObjStore:  false,
			wantVolumes:   true,
			wantSinkLevel: zerolog.InfoLevel,
		},
		{
			name:          "testflag",
			ud:            map[string]interface{}{"testflag": true},
			wantObjStore:  true,
			wantTest:      true,
			wantSinkLevel: zerolog.DebugLevel,
		},
		{
			name:          "localflag present but false",
			ud:            map[string]interface{}{"localflag": false},
			wantObjStore:  true,
			wantLocal:     false,
			wantSinkLevel: zerolog.DebugLevel,
		},
		{
			name:          "localflag",
			ud:            map[string]interface{}{"localflag": "yes"},
			wantObjStore:  true,
			wantLocal:     true,
			wantSinkLevel: zerolog.DebugLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newFixture(t, tt.ud).boot(t)

			assert.Equal(t, tt.wantObjStore, a.UseObjectStore)
			assert.Equal(t, tt.wantVolumes, a.UseVolumes)
			assert.Equal(t, tt.wantTest, a.TestFlag)
			assert.Equal(t, tt.wantLocal, a.LocalFlag)
			assert.Equal(t, tt.wantSinkLevel, a.Sink.Level())
		})
	}
}

func TestNew_CredentialAdvisory(t *testing.T) {
	tests := []struct {
		name string
		ud   map[string]interface{}
		want int
	}{
		{"no credentials", map[string]interface{}{}, 1},
		{"access key only", map[string]interface{}{"access_key": "AKIA"}, 0},
		{"secret key only", map[string]interface{}{"secret_key": "s"}, 0},
		{"both", map[string]interface{}{"access_key": "AKIA", "secret_key": "s"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newFixture(t, tt.ud).boot(t)

			assert.Equal(t, tt.want, a.Messages.Count())
			assert.Equal(t, tt.want, a.Messages.CountLevel(messages.LevelError))
		})
	}
}

func TestNew_SinkCollectsDebugInTestMode(t *testing.T) {
	a := newFixture(t, map[string]interface{}{"testflag": true}).boot(t)

	lines := a.Sink.Snapshot()
	require.NotEmpty(t, lines)
	assert.True(t, containsLine(lines, "No PD to go by"), "resolver debug output reaches the sink")
}

func TestStartup_Coordinator(t *testing.T) {
	f := newFixture(t, map[string]interface{}{"role": "master"})

	built := map[node.Role]int{}
	f.opts.Registry = countingRegistry(built)

	a := f.boot(t)
	require.NoError(t, a.Startup(context.Background()))

	require.NotNil(t, a.Manager())
	assert.Equal(t, node.RoleCoordinator, a.Manager().Role())
	assert.Equal(t, StateCoordinatorRunning, a.State())
	assert.True(t, a.Manager().ConsoleMonitor().Running())
	assert.Equal(t, map[node.Role]int{node.RoleCoordinator: 1}, built)
	assert.Equal(t, "master", a.Paths().Role())
}

func TestStartup_Worker(t *testing.T) {
	f := newFixture(t, map[string]interface{}{"role": "worker"})

	built := map[node.Role]int{}
	f.opts.Registry = countingRegistry(built)

	a := f.boot(t)
	require.NoError(t, a.Startup(context.Background()))

	assert.Equal(t, node.RoleWorker, a.Manager().Role())
	assert.Equal(t, StateWorkerRunning, a.State())
	assert.Equal(t, map[node.Role]int{node.RoleWorker: 1}, built)
}

func TestStartup_LocksRole(t *testing.T) {
	a := newFixture(t, map[string]interface{}{"role": "master"}).boot(t)
	require.NoError(t, a.Startup(context.Background()))

	assert.ErrorIs(t, a.Config.Set(config.KeyRole, "worker"), config.ErrRoleLocked)
	assert.NoError(t, a.Config.Set("cluster_name", "still writable"))
}

func TestStartup_Idempotent(t *testing.T) {
	f := newFixture(t, map[string]interface{}{"role": "worker"})
	built := map[node.Role]int{}
	f.opts.Registry = countingRegistry(built)

	a := f.boot(t)
	require.NoError(t, a.Startup(context.Background()))
	require.NoError(t, a.Startup(context.Background()))

	assert.Equal(t, 1, built[node.RoleWorker])
}

func TestStartup_NoRole(t *testing.T) {
	a := newFixture(t, map[string]interface{}{"cluster_name": "c"}).boot(t)

	err := a.Startup(context.Background())
	require.Error(t, err)

	var de *DispatchError
	require.True(t, errors.As(err, &de))
	assert.ErrorIs(t, err, ErrNoRole)
	assert.True(t, IsDispatchError(err))

	assert.Nil(t, a.Manager())
	assert.Equal(t, StateDispatchFailed, a.State())
	assert.True(t, containsLine(a.Sink.Snapshot(), "No ROLE in userData.yaml"))

	again := a.Startup(context.Background())
	assert.Same(t, err, again, "dispatch failure is terminal")
	assert.NoError(t, a.Shutdown(context.Background(), false))
}

func TestStartup_UnknownRoleFromPersistentData(t *testing.T) {
	f := newFixture(t, map[string]interface{}{"cluster_name": "c"})
	f.writeInstancePD(t, "role: supervisor\n")

	a := f.boot(t)
	err := a.Startup(context.Background())

	assert.ErrorIs(t, err, ErrUnknownRole)
	assert.Nil(t, a.Manager())
	assert.Equal(t, StateDispatchFailed, a.State())
}

func TestStartup_FactoryFailure(t *testing.T) {
	f := newFixture(t, map[string]interface{}{"role": "master"})
	boom := errors.New("boom")
	f.opts.Registry = node.Registry{
		node.RoleCoordinator: func(ctx context.Context, nc *node.Context) (node.Manager, error) {
			return nil, boom
		},
	}

	a := f.boot(t)
	err := a.Startup(context.Background())

	assert.ErrorIs(t, err, ErrManagerConstruction)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, a.Manager())
	assert.False(t, a.Config.RoleLocked())
}

func TestShutdown_WithoutManager(t *testing.T) {
	a := newFixture(t, map[string]interface{}{}).boot(t)

	assert.NoError(t, a.Shutdown(context.Background(), true))
	assert.NoError(t, a.Shutdown(context.Background(), false))
	assert.Equal(t, StateUninitialized, a.State())
}

func TestShutdown_DelegatesFlag(t *testing.T) {
	for _, deleteCluster := range []bool{true, false} {
		f := newFixture(t, map[string]interface{}{"role": "worker"})
		fake := &fakeManager{role: node.RoleWorker}
		f.opts.Registry = node.Registry{
			node.RoleWorker: func(ctx context.Context, nc *node.Context) (node.Manager, error) {
				fake.monitor = node.NewConsoleMonitor(node.RoleWorker, time.Hour, nil)
				return fake, nil
			},
		}

		a := f.boot(t)
		require.NoError(t, a.Startup(context.Background()))
		require.NoError(t, a.Shutdown(context.Background(), deleteCluster))
		require.NoError(t, a.Shutdown(context.Background(), deleteCluster))

		assert.Equal(t, []bool{deleteCluster}, fake.shutdowns)
		assert.Equal(t, StateTerminated, a.State())
		assert.ErrorIs(t, a.Startup(context.Background()), ErrTerminated)
	}
}

func TestShutdown_CoordinatorSavesPersistentData(t *testing.T) {
	f := newFixture(t, map[string]interface{}{
		"role":             "master",
		"cluster_name":     "c1",
		"use_object_store": false,
	})

	a := f.boot(t)
	require.NoError(t, a.Startup(context.Background()))
	require.NoError(t, a.Shutdown(context.Background(), false))

	assert.False(t, a.Manager().ConsoleMonitor().Running())

	pd, err := persistent.ParseFile(f.opts.InstancePDFile)
	require.NoError(t, err)
	assert.Equal(t, "c1", pd["cluster_name"])
	assert.Equal(t, persistent.DeploymentVersion, pd[config.KeyDeploymentVersion])

	// A second boot recovers the saved state from the instance file.
	next := newFixture(t, map[string]interface{}{"role": "master", "use_object_store": false})
	next.opts.InstancePDFile = f.opts.InstancePDFile
	b := next.boot(t)
	assert.Equal(t, persistent.SourceLocal, b.PDSource)
	assert.Equal(t, "c1", b.Config.GetString("cluster_name", ""))
}

func TestStartup_ContextCarriesSinkAndNumbers(t *testing.T) {
	f := newFixture(t, map[string]interface{}{"role": "worker", "use_object_store": false})

	var got *node.Context
	f.opts.Registry = node.Registry{
		node.RoleWorker: func(ctx context.Context, nc *node.Context) (node.Manager, error) {
			got = nc
			return newFakeManager(node.RoleWorker), nil
		},
	}

	a := f.boot(t)
	require.NoError(t, a.Startup(context.Background()))

	require.NotNil(t, got)
	assert.Same(t, a.Sink, got.Sink)
	assert.Same(t, a.Config, got.Config)
	assert.Same(t, a.Messages, got.Messages)
	assert.Equal(t, 1, got.Next())
	assert.Equal(t, 2, a.Numbers.Next(), "manager and application share one sequence")
}

func TestStartup_CoordinatorStatusReports(t *testing.T) {
	f := newFixture(t, map[string]interface{}{
		"role":             "master",
		"use_object_store": false,
		"services":         map[string]interface{}{"sge": true},
	})
	f.opts.MonitorInterval = 5 * time.Millisecond

	a := f.boot(t)
	require.NoError(t, a.Startup(context.Background()))

	coordinator, ok := a.Manager().(*manager.ConsoleManager)
	require.True(t, ok)
	assert.Eventually(t, func() bool { return coordinator.LastStatus().Seq > 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, a.Shutdown(context.Background(), false))
	status := coordinator.LastStatus()
	assert.Equal(t, 1, status.Services)
	assert.Greater(t, a.Numbers.Next(), status.Seq)
}

func TestNumbers(t *testing.T) {
	n := &Numbers{}
	assert.Equal(t, 1, n.Next())
	assert.Equal(t, 2, n.Next())

	var wg sync.WaitGroup
	seen := make(chan int, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- n.Next()
		}()
	}
	wg.Wait()
	close(seen)

	unique := map[int]bool{}
	for v := range seen {
		unique[v] = true
	}
	assert.Len(t, unique, 100)
	assert.Equal(t, 103, n.Next())
}

func TestDispatchError_Message(t *testing.T) {
	err := &DispatchError{Role: "x", Reason: ErrUnknownRole}
	assert.Equal(t, `role dispatch failed: unknown role (role "x")`, err.Error())

	err = &DispatchError{Role: "master", Reason: ErrManagerConstruction, Err: errors.New("disk full")}
	assert.Equal(t, `role dispatch failed: manager construction failed (role "master"): disk full`, err.Error())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "coordinator-running", StateCoordinatorRunning.String())
	assert.True(t, StateWorkerRunning.Running())
	assert.False(t, StateDispatchFailed.Running())
}

type fakeManager struct {
	role      node.Role
	monitor   *node.ConsoleMonitor
	shutdowns []bool
}

func newFakeManager(role node.Role) *fakeManager {
	return &fakeManager{role: role, monitor: node.NewConsoleMonitor(role, time.Hour, nil)}
}

func (m *fakeManager) Role() node.Role                      { return m.role }
func (m *fakeManager) ConsoleMonitor() *node.ConsoleMonitor { return m.monitor }
func (m *fakeManager) Shutdown(ctx context.Context, deleteCluster bool) error {
	m.monitor.Stop()
	m.shutdowns = append(m.shutdowns, deleteCluster)
	return nil
}

func countingRegistry(built map[node.Role]int) node.Registry {
	reg := node.Registry{}
	for role, factory := range DefaultRegistry() {
		role, factory := role, factory
		reg[role] = func(ctx context.Context, nc *node.Context) (node.Manager, error) {
			built[role]++
			return factory(ctx, nc)
		}
	}
	return reg
}

func containsLine(lines []string, substr string) bool {
	for _, l := range lines {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}
