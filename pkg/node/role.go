package node

import (
	"errors"
	"fmt"
)

// Role is the personality a node takes after bootstrap
type Role string

const (
	RoleCoordinator Role = "master"
	RoleWorker      Role = "worker"
)

// ErrInvalidRole is returned by ParseRole for values outside the enum
var ErrInvalidRole = errors.New("invalid role")

// ParseRole converts a configuration value to a Role
func ParseRole(v interface{}) (Role, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %v", ErrInvalidRole, v)
	}
	switch r := Role(s); r {
	case RoleCoordinator, RoleWorker:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

func (r Role) String() string {
	return string(r)
}

// Label is the human readable name used in logs
func (r Role) Label() string {
	switch r {
	case RoleCoordinator:
		return "coordinator"
	case RoleWorker:
		return "worker"
	default:
		return "unknown"
	}
}
