package persistent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/nodeboot/pkg/config"
	"github.com/cuemby/nodeboot/pkg/objectstore"
)

type memStore struct {
	objects   map[string][]byte
	getErr    error
	gets      int
	validated []bool
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (m *memStore) Get(ctx context.Context, bucket, key string, validate bool) ([]byte, error) {
	m.gets++
	m.validated = append(m.validated, validate)
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, objectstore.ErrNotFound
	}
	return data, nil
}

func (m *memStore) Put(ctx context.Context, bucket, key string, data []byte) error {
	m.objects[bucket+"/"+key] = data
	return nil
}

func (m *memStore) Delete(ctx context.Context, bucket, key string) error {
	delete(m.objects, bucket+"/"+key)
	return nil
}

func (m *memStore) Close() error { return nil }

type resolverFixture struct {
	dir      string
	store    *memStore
	connects int
	resolver *Resolver
}

func newResolverFixture(t *testing.T) *resolverFixture {
	t.Helper()
	f := &resolverFixture{dir: t.TempDir(), store: newMemStore()}
	f.resolver = &Resolver{
		UseObjectStore: true,
		Connect: func(ctx context.Context) (objectstore.Store, error) {
			f.connects++
			return f.store, nil
		},
		InstanceFile: filepath.Join(f.dir, "persistent_data-current.yaml"),
		TempFile:     filepath.Join(f.dir, "tmp", "persistent_data.yaml"),
	}
	return f
}

func (f *resolverFixture) writeInstanceFile(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(f.resolver.InstanceFile, []byte(content), 0600))
}

func (f *resolverFixture) putBucketPD(bucket, content string) {
	f.store.objects[bucket+"/"+RemoteFileName] = []byte(content)
}

func TestResolve_FreshBoot(t *testing.T) {
	f := newResolverFixture(t)
	f.resolver.UseObjectStore = false

	cfg := config.New(nil, map[string]interface{}{"role": "master", "cluster_name": "c1"})

	source, err := f.resolver.Resolve(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, SourceNone, source)
	assert.Equal(t, map[string]interface{}{
		"role":               "master",
		"cluster_name":       "c1",
		"deployment_version": DeploymentVersion,
	}, cfg.UserData())
	assert.Zero(t, f.connects)
}

func TestResolve_LocalFile(t *testing.T) {
	f := newResolverFixture(t)
	f.writeInstanceFile(t, "deployment_version: 1\nservices:\n  sge: true\n")

	cfg := config.New(nil, map[string]interface{}{"role": "master"})

	source, err := f.resolver.Resolve(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, SourceLocal, source)
	assert.Equal(t, 1, cfg.GetInt(config.KeyDeploymentVersion, 0))
	services, ok := cfg.UserData()["services"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, services["sge"])
	assert.Zero(t, f.connects, "no bucket configured")
}

func TestResolve_BucketTakesPrecedence(t *testing.T) {
	f := newResolverFixture(t)
	f.putBucketPD("cm-1", "cluster_name: from-bucket\ndeployment_version: 2\n")
	f.writeInstanceFile(t, "cluster_name: from-local\nlocal_only: true\n")

	cfg := config.New(nil, map[string]interface{}{
		"role":           "master",
		"bucket_cluster": "cm-1",
	})

	source, err := f.resolver.Resolve(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, SourceBucket, source)
	assert.Equal(t, "from-bucket", cfg.GetString("cluster_name", ""))
	assert.False(t, cfg.Has("local_only"), "instance file must not be consulted")
	assert.Equal(t, 2, cfg.GetInt(config.KeyDeploymentVersion, 0))

	_, err = os.Stat(f.resolver.TempFile)
	assert.NoError(t, err, "bucket download lands in the temp file")
}

func TestResolve_BucketFailureFallsThrough(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *resolverFixture)
	}{
		{
			name:  "missing object",
			setup: func(f *resolverFixture) {},
		},
		{
			name: "get error",
			setup: func(f *resolverFixture) {
				f.store.getErr = errors.New("connection reset")
			},
		},
		{
			name: "unparseable object",
			setup: func(f *resolverFixture) {
				f.putBucketPD("cm-1", "services: [unclosed")
			},
		},
		{
			name: "connect error",
			setup: func(f *resolverFixture) {
				f.resolver.Connect = func(ctx context.Context) (objectstore.Store, error) {
					return nil, errors.New("no credentials")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newResolverFixture(t)
			tt.setup(f)
			f.writeInstanceFile(t, "cluster_name: from-local\n")

			cfg := config.New(nil, map[string]interface{}{"bucket_cluster": "cm-1"})

			source, err := f.resolver.Resolve(context.Background(), cfg)
			require.NoError(t, err)
			assert.Equal(t, SourceLocal, source)
			assert.Equal(t, "from-local", cfg.GetString("cluster_name", ""))
		})
	}
}

func TestResolve_TestModeSkipsBucket(t *testing.T) {
	f := newResolverFixture(t)
	f.resolver.TestFlag = true
	f.putBucketPD("cm-1", "cluster_name: from-bucket\n")

	cfg := config.New(nil, map[string]interface{}{"bucket_cluster": "cm-1"})

	source, err := f.resolver.Resolve(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, SourceNone, source)
	assert.Zero(t, f.connects)
	assert.Zero(t, f.store.gets)
	assert.Equal(t, DeploymentVersion, cfg.GetInt(config.KeyDeploymentVersion, 0))
}

func TestResolve_ValidateFlagPassedToStore(t *testing.T) {
	for _, validate := range []bool{true, false} {
		f := newResolverFixture(t)
		f.resolver.Validate = validate
		f.putBucketPD("cm-1", "cluster_name: x\n")

		cfg := config.New(nil, map[string]interface{}{"bucket_cluster": "cm-1"})
		_, err := f.resolver.Resolve(context.Background(), cfg)
		require.NoError(t, err)

		assert.Equal(t, []bool{validate}, f.store.validated)
	}
}

func TestResolve_EmptyLocalFileIgnored(t *testing.T) {
	f := newResolverFixture(t)
	f.writeInstanceFile(t, "")

	cfg := config.New(nil, map[string]interface{}{})
	source, err := f.resolver.Resolve(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, SourceNone, source)
	assert.Equal(t, DeploymentVersion, cfg.GetInt(config.KeyDeploymentVersion, 0))
}

func TestResolve_Idempotent(t *testing.T) {
	f := newResolverFixture(t)
	f.writeInstanceFile(t, "deployment_version: 1\ncluster_name: c1\nservices:\n  sge: true\n")

	cfg := config.New(nil, map[string]interface{}{
		"role":     "master",
		"services": map[string]interface{}{"galaxy": true},
	})

	_, err := f.resolver.Resolve(context.Background(), cfg)
	require.NoError(t, err)
	once := cfg.UserData()

	_, err = f.resolver.Resolve(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, once, cfg.UserData())
	assert.Equal(t, map[string]interface{}{
		"role":               "master",
		"cluster_name":       "c1",
		"deployment_version": 1,
		"services":           map[string]interface{}{"galaxy": true, "sge": true},
	}, once)
}

func TestResolve_LegacyServicesListReplacesMap(t *testing.T) {
	f := newResolverFixture(t)
	f.writeInstanceFile(t, "services:\n  - name: sge\n  - cloudera\n")

	cfg := config.New(nil, map[string]interface{}{
		"role":     "master",
		"services": map[string]interface{}{"galaxy": true},
	})

	_, err := f.resolver.Resolve(context.Background(), cfg)
	require.NoError(t, err)

	// A list never merges with a mapping; the snapshot's list wins and is
	// then converted to map form
	assert.Equal(t, map[string]interface{}{"sge": true, "cloudera": true}, cfg.UserData()["services"])
}

func TestResolve_CustomNormalize(t *testing.T) {
	f := newResolverFixture(t)
	f.writeInstanceFile(t, "cluster_name: c\n")

	called := false
	f.resolver.Normalize = func(ctx context.Context, ud map[string]interface{}) map[string]interface{} {
		called = true
		assert.Equal(t, "c", ud["cluster_name"], "normalize sees the merged view")
		return ud
	}

	_, err := f.resolver.Resolve(context.Background(), config.New(nil, nil))
	require.NoError(t, err)
	assert.True(t, called)
}

func TestResolve_LockedRoleConflict(t *testing.T) {
	f := newResolverFixture(t)
	f.writeInstanceFile(t, "role: worker\n")

	cfg := config.New(nil, map[string]interface{}{"role": "master"})
	cfg.LockRole()

	_, err := f.resolver.Resolve(context.Background(), cfg)
	assert.ErrorIs(t, err, config.ErrRoleLocked)
	assert.Equal(t, "master", cfg.GetString(config.KeyRole, ""))
}
