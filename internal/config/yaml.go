package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// toJSON renders a config file as JSON bytes. YAML input (by extension) is
// decoded and re-marshaled; everything else is assumed to be JSON already.
// Funneling both formats through one strict JSON decode keeps
// DisallowUnknownFields working for YAML configs too.
func toJSON(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, nil
	}

	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("config: yaml decode: %w", err)
	}

	out, err := json.Marshal(stringifyKeys(tree))
	if err != nil {
		return nil, fmt.Errorf("config: yaml to json: %w", err)
	}
	return out, nil
}

// stringifyKeys rewrites every map key to a string. YAML permits non-string
// keys, which json.Marshal rejects.
func stringifyKeys(v any) any {
	switch node := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(node))
		for k, child := range node {
			out[fmt.Sprint(k)] = stringifyKeys(child)
		}
		return out
	case map[string]any:
		for k, child := range node {
			node[k] = stringifyKeys(child)
		}
		return node
	case []any:
		for i, child := range node {
			node[i] = stringifyKeys(child)
		}
		return node
	default:
		return v
	}
}
