// Package registry implements the Configuration Registry (C5): a
// priority-ordered multi-repository store that merges per-app and
// per-hub configuration documents using RFC 7386 JSON Merge Patch
// semantics, generalizing the ancestor daemon's internal/config cache-
// then-discover sync.RWMutex Manager (there scanning for vpn.conf files)
// to a repository/apps/hubs directory layout merged with a real JSON
// Merge Patch library instead of a flat key=value parser.
package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/dupdatesystem/getter-go/internal/apperror"
	"github.com/dupdatesystem/getter-go/internal/atomicfile"
)

// Manager is the Configuration Registry: an ordered repository list plus
// a small read cache of merged app/hub documents.
type Manager struct {
	dataDir string

	mu    sync.RWMutex
	repos []Repository

	cacheMu   sync.RWMutex
	appCache  map[string]AppConfig
	hubCache  map[string]HubConfig
}

// New builds a Manager rooted at dataDir. The default in-tree repository
// (<data_dir>/repo) is always present with priority 0 unless repos
// already names a repository called "default".
func New(dataDir string, repos []Repository) *Manager {
	hasDefault := false
	for _, r := range repos {
		if r.Name == "default" {
			hasDefault = true
			break
		}
	}
	if !hasDefault {
		repos = append(repos, Repository{
			Name:     "default",
			Path:     filepath.Join(dataDir, "repo"),
			Priority: 0,
			Enabled:  true,
		})
	}

	m := &Manager{
		dataDir:  dataDir,
		repos:    repos,
		appCache: make(map[string]AppConfig),
		hubCache: make(map[string]HubConfig),
	}
	m.sortReposLocked()
	return m
}

func (m *Manager) sortReposLocked() {
	sort.SliceStable(m.repos, func(i, j int) bool {
		return m.repos[i].Priority > m.repos[j].Priority
	})
}

// SetRepositories replaces the repository list and invalidates the cache.
func (m *Manager) SetRepositories(repos []Repository) {
	m.mu.Lock()
	m.repos = repos
	m.sortReposLocked()
	m.mu.Unlock()
	m.ClearCache()
}

// Repositories returns a snapshot of the current repository list,
// highest priority first.
func (m *Manager) Repositories() []Repository {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Repository, len(m.repos))
	copy(out, m.repos)
	return out
}

// ClearCache invalidates the in-memory app/hub config cache.
func (m *Manager) ClearCache() {
	m.cacheMu.Lock()
	m.appCache = make(map[string]AppConfig)
	m.hubCache = make(map[string]HubConfig)
	m.cacheMu.Unlock()
}

// ascendingEnabledRepos returns the currently enabled repositories in
// ascending priority order (lowest first), the order the merge must fold
// over so that higher-priority repos override lower ones.
func (m *Manager) ascendingEnabledRepos() []Repository {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Repository, 0, len(m.repos))
	for _, r := range m.repos {
		if r.Enabled {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

func mergeDocuments(docs [][]byte) ([]byte, error) {
	acc := []byte("{}")
	for _, doc := range docs {
		merged, err := jsonpatch.MergePatch(acc, doc)
		if err != nil {
			return nil, apperror.Wrap(apperror.KindFilesystem, "merge config document", err)
		}
		acc = merged
	}
	return acc, nil
}

// GetAppConfig returns the merged AppConfig for appID: every enabled
// repository's apps/<app_id>.json folded in ascending priority order,
// then the local override at <data_dir>/config/apps/<app_id>.json if
// present.
func (m *Manager) GetAppConfig(appID string) (AppConfig, error) {
	m.cacheMu.RLock()
	if cfg, ok := m.appCache[appID]; ok {
		m.cacheMu.RUnlock()
		return cfg, nil
	}
	m.cacheMu.RUnlock()

	var docs [][]byte
	for _, repo := range m.ascendingEnabledRepos() {
		data, ok := readIfExists(filepath.Join(repo.Path, "apps", appID+".json"))
		if ok {
			docs = append(docs, data)
		}
	}
	if len(docs) == 0 {
		return AppConfig{}, apperror.New(apperror.KindNotFound, "app "+appID+" not found in any repository")
	}
	if data, ok := readIfExists(filepath.Join(m.dataDir, "config", "apps", appID+".json")); ok {
		docs = append(docs, data)
	}

	merged, err := mergeDocuments(docs)
	if err != nil {
		return AppConfig{}, err
	}

	var raw map[string]any
	if err := json.Unmarshal(merged, &raw); err != nil {
		return AppConfig{}, apperror.Wrap(apperror.KindFilesystem, "decode merged app config", err)
	}
	cfg := AppConfig{Metadata: raw}
	if name, ok := raw["name"].(string); ok {
		cfg.Name = name
	}

	m.cacheMu.Lock()
	m.appCache[appID] = cfg
	m.cacheMu.Unlock()
	return cfg, nil
}

// GetHubConfig returns the merged HubConfig for hubID, following the
// identical procedure as GetAppConfig under hubs/<hub_id>.json.
func (m *Manager) GetHubConfig(hubID string) (HubConfig, error) {
	m.cacheMu.RLock()
	if cfg, ok := m.hubCache[hubID]; ok {
		m.cacheMu.RUnlock()
		return cfg, nil
	}
	m.cacheMu.RUnlock()

	var docs [][]byte
	for _, repo := range m.ascendingEnabledRepos() {
		data, ok := readIfExists(filepath.Join(repo.Path, "hubs", hubID+".json"))
		if ok {
			docs = append(docs, data)
		}
	}
	if len(docs) == 0 {
		return HubConfig{}, apperror.New(apperror.KindNotFound, "hub "+hubID+" not found in any repository")
	}
	if data, ok := readIfExists(filepath.Join(m.dataDir, "config", "hubs", hubID+".json")); ok {
		docs = append(docs, data)
	}

	merged, err := mergeDocuments(docs)
	if err != nil {
		return HubConfig{}, err
	}

	var raw map[string]any
	if err := json.Unmarshal(merged, &raw); err != nil {
		return HubConfig{}, apperror.Wrap(apperror.KindFilesystem, "decode merged hub config", err)
	}
	cfg := HubConfig{Config: raw}
	if name, ok := raw["name"].(string); ok {
		cfg.Name = name
	}
	if pt, ok := raw["provider_type"].(string); ok {
		cfg.ProviderType = pt
	}

	m.cacheMu.Lock()
	m.hubCache[hubID] = cfg
	m.cacheMu.Unlock()
	return cfg, nil
}

// SaveAppOverride writes a local override for appID, merged last on read.
func (m *Manager) SaveAppOverride(appID string, data []byte) error {
	defer m.ClearCache()
	return atomicfile.Write(filepath.Join(m.dataDir, "config", "apps", appID+".json"), data, 0o644)
}

// SaveHubOverride writes a local override for hubID, merged last on read.
func (m *Manager) SaveHubOverride(hubID string, data []byte) error {
	defer m.ClearCache()
	return atomicfile.Write(filepath.Join(m.dataDir, "config", "hubs", hubID+".json"), data, 0o644)
}

func readIfExists(path string) ([]byte, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	return data, true
}
