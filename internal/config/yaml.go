package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// isYAMLPath reports whether path names a YAML config file.
func isYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// yamlToJSON re-encodes a YAML document as JSON. The config file is JSON
// first; YAML goes through this conversion so one strict decoder
// (DisallowUnknownFields) covers both formats.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	b, err := json.Marshal(stringKeys(doc))
	if err != nil {
		return nil, fmt.Errorf("yaml to json: %w", err)
	}
	return b, nil
}

// stringKeys rewrites map keys to strings. yaml.v3 can produce map[any]any
// for documents with non-string keys, which json.Marshal rejects.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = stringKeys(val)
		}
		return out
	case map[string]any:
		for k, val := range t {
			t[k] = stringKeys(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = stringKeys(val)
		}
		return t
	}
	return v
}
