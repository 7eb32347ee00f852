package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"
)

// Configuration keys read during bootstrap
const (
	KeyRole                  = "role"
	KeyTestFlag              = "testflag"
	KeyLocalFlag             = "localflag"
	KeyUseObjectStore        = "use_object_store"
	KeyUseVolumes            = "use_volumes"
	KeyBucketCluster         = "bucket_cluster"
	KeyAccessKey             = "access_key"
	KeySecretKey             = "secret_key"
	KeyDeploymentVersion     = "deployment_version"
	KeyPersistentDataVersion = "persistent_data_version"
	KeyCloudType             = "cloud_type"
	KeyRegion                = "region"
	KeyS3Endpoint            = "s3_endpoint"
	KeyServices              = "services"
	KeyCoordinatorAddr       = "coordinator_addr"
)

// ErrRoleLocked is returned when the role is changed after dispatch
var ErrRoleLocked = errors.New("role cannot change after dispatch")

// Configuration is the working node configuration. Process overrides take
// precedence over user data on lookup; writes go to user data, which is the
// part merged with and saved as persistent data.
type Configuration struct {
	mu         sync.RWMutex
	overrides  map[string]interface{}
	userData   map[string]interface{}
	roleLocked bool
}

// New creates a Configuration from process overrides and provider user data.
// Both maps are copied.
func New(overrides, userData map[string]interface{}) *Configuration {
	c := &Configuration{
		overrides: make(map[string]interface{}, len(overrides)),
		userData:  make(map[string]interface{}, len(userData)),
	}
	for k, v := range overrides {
		c.overrides[k] = v
	}
	for k, v := range userData {
		c.userData[k] = v
	}
	return c
}

// ParseUserData decodes a YAML user-data document. Empty input yields an
// empty mapping.
func ParseUserData(data []byte) (map[string]interface{}, error) {
	ud := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &ud); err != nil {
		return nil, fmt.Errorf("failed to parse user data: %w", err)
	}
	if ud == nil {
		ud = make(map[string]interface{})
	}
	return ud, nil
}

// LoadUserDataFile reads a YAML user-data file. A missing file is not an
// error and yields an empty mapping.
func LoadUserDataFile(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]interface{}), nil
		}
		return nil, fmt.Errorf("failed to read user data: %w", err)
	}
	return ParseUserData(data)
}

// Get looks a key up in overrides, then user data
func (c *Configuration) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.get(key)
}

func (c *Configuration) get(key string) (interface{}, bool) {
	if v, ok := c.overrides[key]; ok {
		return v, true
	}
	v, ok := c.userData[key]
	return v, ok
}

// Has reports whether key is present
func (c *Configuration) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// GetString returns key as a string, or def when absent
func (c *Configuration) GetString(key, def string) string {
	v, ok := c.Get(key)
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// GetBool returns the truthiness of key, or def when absent
func (c *Configuration) GetBool(key string, def bool) bool {
	v, ok := c.Get(key)
	if !ok {
		return def
	}
	return Truthy(v)
}

// GetInt returns key as an int, or def when absent or not numeric
func (c *Configuration) GetInt(key string, def int) int {
	v, ok := c.Get(key)
	if !ok {
		return def
	}
	if n, ok := ToInt(v); ok {
		return n
	}
	return def
}

// Set writes key into user data
func (c *Configuration) Set(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if key == KeyRole && c.roleLocked {
		return ErrRoleLocked
	}
	c.userData[key] = value
	return nil
}

// UserData returns a shallow copy of the user-data mapping
func (c *Configuration) UserData() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]interface{}, len(c.userData))
	for k, v := range c.userData {
		out[k] = v
	}
	return out
}

// SetUserData replaces the user-data mapping. Once the role is locked the
// replacement must not change the effective role.
func (c *Configuration) SetUserData(ud map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.roleLocked {
		before, hadBefore := c.get(KeyRole)
		after, hasAfter := ud[KeyRole]
		if _, overridden := c.overrides[KeyRole]; overridden {
			after, hasAfter = before, hadBefore
		}
		if hadBefore != hasAfter || fmt.Sprint(before) != fmt.Sprint(after) {
			return ErrRoleLocked
		}
	}

	next := make(map[string]interface{}, len(ud))
	for k, v := range ud {
		next[k] = v
	}
	c.userData = next
	return nil
}

// Keys returns every key in sorted order
func (c *Configuration) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]struct{}, len(c.overrides)+len(c.userData))
	for k := range c.overrides {
		seen[k] = struct{}{}
	}
	for k := range c.userData {
		seen[k] = struct{}{}
	}

	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LockRole freezes the role value
func (c *Configuration) LockRole() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roleLocked = true
}

// RoleLocked reports whether LockRole has been called
func (c *Configuration) RoleLocked() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roleLocked
}

// Truthy converts a loosely typed configuration value to a boolean.
// Strings that do not parse as booleans are true when non-empty.
func Truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(t); err == nil {
			return b
		}
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}

// ToInt converts numeric values and numeric strings to int
func ToInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case uint64:
		return int(t), true
	case float64:
		if t != float64(int(t)) {
			return 0, false
		}
		return int(t), true
	case string:
		n, err := strconv.Atoi(t)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
