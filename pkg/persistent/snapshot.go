package persistent

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// PersistentDataVersion is the PD format this node reads and writes
	PersistentDataVersion = 3

	// DeploymentVersion is stamped on clusters created by this node
	DeploymentVersion = 2

	// RemoteFileName is the PD object name inside the cluster bucket
	RemoteFileName = "persistent_data.yaml"
)

// Snapshot is a serialized cluster configuration fragment
type Snapshot map[string]interface{}

// ErrEmptySnapshot is returned when a PD file holds no mapping
var ErrEmptySnapshot = errors.New("persistent data file is empty")

// ParseFile loads a PD snapshot from a YAML file
func ParseFile(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read persistent data: %w", err)
	}
	return Parse(data)
}

// Parse decodes a PD snapshot. Nested mappings are plain
// map[string]interface{} values.
func Parse(data []byte) (Snapshot, error) {
	// yaml.v3 reuses a named map type for every nested mapping, so decode
	// into the plain type and convert the top level only
	var m map[string]interface{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse persistent data: %w", err)
	}
	if len(m) == 0 {
		return nil, ErrEmptySnapshot
	}
	return Snapshot(m), nil
}

// Marshal encodes a snapshot as YAML
func Marshal(snap Snapshot) ([]byte, error) {
	data, err := yaml.Marshal(map[string]interface{}(snap))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal persistent data: %w", err)
	}
	return data, nil
}

// WriteFile saves a snapshot atomically via a temp file and rename
func WriteFile(path string, snap Snapshot) error {
	data, err := Marshal(snap)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if f, err := os.OpenFile(tmp, os.O_RDONLY, 0); err == nil {
		_ = f.Sync()
		_ = f.Close()
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename persistent data file: %w", err)
	}
	return nil
}
