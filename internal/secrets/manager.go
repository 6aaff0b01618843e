// Package secrets resolves secret values from a .env file and the loaded
// configuration, substitutes placeholders, and registers values for masking.
package secrets

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"sync"

	"github.com/joho/godotenv"
)

// minMaskLength is the shortest secret value worth masking. Very short
// values would redact innocent substrings all over the output.
const minMaskLength = 6

var placeholderRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Manager is the two-store secret resolver. Secrets are loaded once at
// startup and are read-only afterwards; there is no hot reload mid-request.
type Manager struct {
	logger *slog.Logger

	mu     sync.RWMutex
	env    map[string]string // .env file store, checked first
	config map[string]string // config-declared store
}

// NewManager creates an empty secret manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger: logger.With("component", "secrets"),
		env:    make(map[string]string),
		config: make(map[string]string),
	}
}

// LoadEnvFile loads a .env file into the primary store. A missing file is
// not an error; the store just stays empty.
func (m *Manager) LoadEnvFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		m.logger.Debug("no .env file", "path", path)
		return nil
	}
	values, err := godotenv.Read(path)
	if err != nil {
		return fmt.Errorf("read env file %s: %w", path, err)
	}
	m.mu.Lock()
	for k, v := range values {
		m.env[k] = v
	}
	m.mu.Unlock()
	m.logger.Info("loaded secrets from env file", "path", path, "count", len(values))
	return nil
}

// SetConfigSecrets merges secrets declared in the configuration into the
// secondary store. Values already present in the .env store keep priority.
func (m *Manager) SetConfigSecrets(values map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range values {
		if v != "" {
			m.config[k] = v
		}
	}
}

// Resolve looks a secret up by name: .env first, then config, then the
// process environment.
func (m *Manager) Resolve(name string) (string, bool) {
	m.mu.RLock()
	if v, ok := m.env[name]; ok && v != "" {
		m.mu.RUnlock()
		return v, true
	}
	if v, ok := m.config[name]; ok && v != "" {
		m.mu.RUnlock()
		return v, true
	}
	m.mu.RUnlock()
	if v := os.Getenv(name); v != "" {
		return v, true
	}
	return "", false
}

// Substitute replaces ${NAME} placeholders with resolved secret values.
// Unresolvable placeholders are left intact so the failure is visible at
// the point of use rather than silently emptied.
func (m *Manager) Substitute(s string) string {
	return placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		if v, ok := m.Resolve(name); ok {
			return v
		}
		return match
	})
}

// SubstituteMap returns a copy of env with placeholder substitution applied
// to every value. Used when building subprocess environments.
func (m *Manager) SubstituteMap(env map[string]string) map[string]string {
	if len(env) == 0 {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = m.Substitute(v)
	}
	return out
}

// MaskValues returns every known secret value long enough to be worth
// masking, longest first so that overlapping secrets redact cleanly.
func (m *Manager) MaskValues() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{}, len(m.env)+len(m.config))
	var out []string
	for _, store := range []map[string]string{m.env, m.config} {
		for _, v := range store {
			if len(v) < minMaskLength {
				continue
			}
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}
