package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// overridePrefix marks environment variables that patch the loaded
// config, e.g. ITAK_SET_agent.max_iterations=50.
const overridePrefix = "ITAK_SET_"

// topLevelKeys are the recognized config sections; an override outside
// them is reported, not applied.
var topLevelKeys = map[string]bool{
	"agent":        true,
	"provider":     true,
	"rate_limit":   true,
	"heartbeat":    true,
	"mcp_servers":  true,
	"channels":     true,
	"logging":      true,
	"storage":      true,
	"env_file":     true,
	"metrics_addr": true,
}

// applyEnvOverrides patches raw in place from ITAK_SET_ variables and
// returns a warning per override it could not apply. Override failures
// are never fatal.
func applyEnvOverrides(raw map[string]any, environ []string) []string {
	var warnings []string
	for _, entry := range environ {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || !strings.HasPrefix(key, overridePrefix) {
			continue
		}
		path := strings.ToLower(strings.TrimPrefix(key, overridePrefix))
		if path == "" {
			warnings = append(warnings, fmt.Sprintf("override %s: empty path", key))
			continue
		}
		if err := setPath(raw, strings.Split(path, "."), value); err != nil {
			warnings = append(warnings, fmt.Sprintf("override %s: %v", key, err))
		}
	}
	return warnings
}

// setPath writes a scalar at a dotted path, creating intermediate maps.
func setPath(raw map[string]any, path []string, value string) error {
	if !topLevelKeys[path[0]] {
		return fmt.Errorf("unknown section %q", path[0])
	}
	node := raw
	for _, segment := range path[:len(path)-1] {
		child, ok := node[segment]
		if !ok {
			next := map[string]any{}
			node[segment] = next
			node = next
			continue
		}
		next, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("%q is not a section", segment)
		}
		node = next
	}
	node[path[len(path)-1]] = parseScalar(value)
	return nil
}

// parseScalar types the override value the way the YAML decoder would,
// so "50" becomes an int and "true" a bool.
func parseScalar(value string) any {
	var out any
	if err := yaml.Unmarshal([]byte(value), &out); err != nil {
		return value
	}
	return out
}
