package cloud

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/cuemby/nodeboot/pkg/config"
	"github.com/cuemby/nodeboot/pkg/objectstore"
)

// Local implements Interface for clouds without a metadata service. User
// data comes from a file and the object store is a BoltDB file in the data
// directory.
type Local struct {
	cloudType    string
	userDataFile string
	dataDir      string

	mu    sync.Mutex
	store *objectstore.BoltStore
}

// NewLocal creates a local provider reporting cloudType
func NewLocal(cloudType, userDataFile, dataDir string) *Local {
	if cloudType == "" {
		cloudType = TypeDummy
	}
	return &Local{
		cloudType:    cloudType,
		userDataFile: userDataFile,
		dataDir:      dataDir,
	}
}

func (l *Local) Type() string {
	return l.cloudType
}

func (l *Local) UserData(ctx context.Context) (map[string]interface{}, error) {
	if l.userDataFile == "" {
		return make(map[string]interface{}), nil
	}
	return config.LoadUserDataFile(l.userDataFile)
}

func (l *Local) Zone(ctx context.Context) string {
	return l.cloudType + "-zone"
}

func (l *Local) ImageID(ctx context.Context) string {
	return l.cloudType + "-image"
}

func (l *Local) ObjectStore(ctx context.Context, cfg *config.Configuration) (objectstore.Store, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.store != nil {
		return l.store, nil
	}
	store, err := objectstore.NewBoltStore(filepath.Join(l.dataDir, "objectstore.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open local object store: %w", err)
	}
	l.store = store
	return store, nil
}

// SupportsIntegrityValidation is false: the local store keeps no checksums
func (l *Local) SupportsIntegrityValidation() bool {
	return false
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.store == nil {
		return nil
	}
	err := l.store.Close()
	l.store = nil
	return err
}
