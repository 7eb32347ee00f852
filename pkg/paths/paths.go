// Package paths resolves the on-disk locations used by a node.
package paths

import (
	"path/filepath"
)

const (
	// DefaultDataDir is the working directory for bootstrap state
	DefaultDataDir = "/tmp/cm"

	// UserDataFile is the user data file name inside the data directory
	UserDataFile = "userData.yaml"

	// DefaultInstancePDFile is the instance-local persistent data copy
	DefaultInstancePDFile = "/mnt/persistent_data-current.yaml"

	tempPDFile = "persistent_data.yaml"
)

// Resolver maps logical files to paths. It is created during bootstrap
// without a role and bound to the dispatched role afterwards.
type Resolver struct {
	role           string
	dataDir        string
	instancePDFile string
}

// New creates a Resolver rooted at dataDir. Empty arguments fall back to
// the defaults.
func New(dataDir, instancePDFile string) *Resolver {
	if dataDir == "" {
		dataDir = DefaultDataDir
	}
	if instancePDFile == "" {
		instancePDFile = DefaultInstancePDFile
	}
	return &Resolver{dataDir: dataDir, instancePDFile: instancePDFile}
}

// WithRole returns a copy of r bound to role
func (r *Resolver) WithRole(role string) *Resolver {
	c := *r
	c.role = role
	return &c
}

// Role returns the bound role, empty before dispatch
func (r *Resolver) Role() string {
	return r.role
}

func (r *Resolver) DataDir() string {
	return r.dataDir
}

func (r *Resolver) UserDataFile() string {
	return filepath.Join(r.dataDir, UserDataFile)
}

func (r *Resolver) InstancePDFile() string {
	return r.instancePDFile
}

// TempPDFile is where a bucket PD download is staged before parsing
func (r *Resolver) TempPDFile() string {
	return filepath.Join(r.dataDir, tempPDFile)
}

// RoleDir is the per-role state directory. Before dispatch it is the data
// directory itself.
func (r *Resolver) RoleDir() string {
	if r.role == "" {
		return r.dataDir
	}
	return filepath.Join(r.dataDir, r.role)
}
