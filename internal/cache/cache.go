// Package cache implements the keyed binary blob store shared by
// providers (the "upstream-response" group) and the application manager
// ("derived-api"), backed by flat files under a cache directory and
// written with the daemon's usual atomic-rename idiom.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"github.com/dupdatesystem/getter-go/internal/atomicfile"
)

const (
	// GroupUpstreamResponse holds provider-level request bodies.
	GroupUpstreamResponse = "upstream-response"
	// GroupDerivedAPI holds manager-level serialised results.
	GroupDerivedAPI = "derived-api"
)

// Manager is a flat-file blob store rooted at <cache_dir>/local_cache.
type Manager struct {
	root      string
	globalTTL time.Duration
	hasGlobal bool
}

// New creates a Manager rooted at cacheDir. globalTTL of 0 disables the
// manager-wide default (per-call ttl is still honoured).
func New(cacheDir string, globalTTL time.Duration) *Manager {
	return &Manager{
		root:      filepath.Join(cacheDir, "local_cache"),
		globalTTL: globalTTL,
		hasGlobal: globalTTL > 0,
	}
}

func (m *Manager) path(group, key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(m.root, group+"_"+hex.EncodeToString(sum[:]))
}

// Get returns the cached bytes for (group, key), or ok=false if absent or
// expired. ttl of 0 uses the manager's global TTL, if any; a manager with
// no TTL configured never expires entries.
func (m *Manager) Get(group, key string, ttl time.Duration) (data []byte, ok bool) {
	path := m.path(group, key)
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}

	effective := ttl
	if effective <= 0 && m.hasGlobal {
		effective = m.globalTTL
	}
	if effective > 0 && time.Since(info.ModTime()) > effective {
		return nil, false
	}

	data, err = os.ReadFile(path)
	if err != nil {
		// A partially written entry behaves as absent.
		return nil, false
	}
	return data, true
}

// Save writes data for (group, key), overwriting any existing entry.
func (m *Manager) Save(group, key string, data []byte) error {
	return atomicfile.Write(m.path(group, key), data, 0o644)
}

// Remove deletes the entry for (group, key), if present.
func (m *Manager) Remove(group, key string) error {
	err := os.Remove(m.path(group, key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Clean removes every entry under the cache root.
func (m *Manager) Clean() error {
	entries, err := os.ReadDir(m.root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.Remove(filepath.Join(m.root, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
