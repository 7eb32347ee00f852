package persistent

import (
	"context"

	"github.com/mitchellh/copystructure"

	"github.com/cuemby/nodeboot/pkg/config"
	"github.com/cuemby/nodeboot/pkg/log"
)

// DeepMerge returns base overlaid with overlay. Where both sides hold a
// mapping for the same key the mappings are merged recursively; any other
// overlap takes the overlay value. Neither input is modified.
func DeepMerge(base, overlay map[string]interface{}) map[string]interface{} {
	out := deepCopy(base)
	if out == nil {
		out = make(map[string]interface{}, len(overlay))
	}

	for k, ov := range overlay {
		if om, ok := asMap(ov); ok {
			if bm, ok := asMap(out[k]); ok {
				out[k] = DeepMerge(bm, om)
				continue
			}
		}
		out[k] = copyValue(ov)
	}
	return out
}

func deepCopy(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	c, err := copystructure.Copy(m)
	if err != nil {
		// copystructure only fails on unsupported kinds such as channels,
		// which YAML decoding never produces; fall back to a shallow copy.
		out := make(map[string]interface{}, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	return c.(map[string]interface{})
}

func copyValue(v interface{}) interface{} {
	c, err := copystructure.Copy(v)
	if err != nil {
		return v
	}
	return c
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, true
	case Snapshot:
		return map[string]interface{}(t), true
	default:
		return nil, false
	}
}

// Normalize reconciles a merged user-data mapping with the current layout.
// It must run on the fully merged view.
func Normalize(ctx context.Context, ud map[string]interface{}) map[string]interface{} {
	logger := log.WithComponent("persistent")

	for _, key := range []string{config.KeyDeploymentVersion, config.KeyPersistentDataVersion} {
		if v, ok := ud[key]; ok {
			if n, ok := config.ToInt(v); ok {
				ud[key] = n
			}
		}
	}

	if v, ok := ud[config.KeyPersistentDataVersion]; ok {
		if n, _ := v.(int); n != PersistentDataVersion {
			logger.Debug().
				Interface("found", v).
				Int("current", PersistentDataVersion).
				Msg("Persistent data format differs from current version")
		}
	}

	if m, ok := ud[config.KeyServices].(Snapshot); ok {
		ud[config.KeyServices] = map[string]interface{}(m)
	}

	if list, ok := ud[config.KeyServices].([]interface{}); ok {
		services := make(map[string]interface{}, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				services[s] = true
				continue
			}
			if m, ok := asMap(item); ok {
				if name, ok := m["name"].(string); ok {
					services[name] = true
				}
			}
		}
		ud[config.KeyServices] = services
		logger.Debug().Int("count", len(services)).Msg("Converted legacy services list")
	}

	if legacy, ok := ud["cluster_type"]; ok {
		if _, exists := ud["cluster_storage_type"]; !exists {
			ud["cluster_storage_type"] = legacy
		}
		delete(ud, "cluster_type")
	}

	return ud
}
