// Package settings persists daemon configuration across restarts,
// generalizing the ancestor's internal/settings lazy-load-once-then-cache
// Manager from VPN interface/resolver preferences to this daemon's
// bind address, RPC auth, diagnostics, and downloader defaults.
package settings

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// Settings captures daemon configuration persisted across restarts.
type Settings struct {
	// RPC surface
	BindAddr string `json:"bindAddr"`

	// Diagnostics
	DebugLogEnabled bool   `json:"debugLogEnabled,omitempty"`
	DebugLogLevel   string `json:"debugLogLevel,omitempty"`

	// Cache
	CacheTTLSeconds int `json:"cacheTTLSeconds,omitempty"`

	// Downloader defaults
	DownloaderMaxConcurrent  int `json:"downloaderMaxConcurrent,omitempty"`
	DownloaderRetries        int `json:"downloaderRetries,omitempty"`
	DownloaderTimeoutSeconds int `json:"downloaderTimeoutSeconds,omitempty"`

	// Auth — stored as a bcrypt hash and a random bearer token.
	// They are written to the settings file like every other field;
	// no RPC method returns Settings.
	AuthSecretHash string `json:"authSecretHash,omitempty"`
	AuthToken      string `json:"authToken,omitempty"`
}

// Manager handles persistence of Settings on disk.
type Manager struct {
	path   string
	mu     sync.RWMutex
	cached Settings
	loaded bool
}

// NewManager creates a settings manager whose file is at settingsPath.
// Pass the full file path (e.g. "/data/getterd/settings.json").
func NewManager(settingsPath string) *Manager {
	return &Manager{path: settingsPath}
}

// Get returns the cached settings, loading from disk if necessary.
func (m *Manager) Get() (Settings, error) {
	m.mu.RLock()
	if m.loaded {
		defer m.mu.RUnlock()
		return m.cached, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded {
		return m.cached, nil
	}

	bytes, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			m.loaded = true
			m.cached = defaults()
			return m.cached, nil
		}
		return Settings{}, err
	}

	settings := defaults()
	if err := json.Unmarshal(bytes, &settings); err != nil {
		return Settings{}, err
	}
	m.cached = settings
	m.loaded = true
	return settings, nil
}

// Save persists the provided settings to disk.
func (m *Manager) Save(settings Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return err
	}
	m.cached = settings
	m.loaded = true
	return nil
}

func defaults() Settings {
	return Settings{
		BindAddr:                 "127.0.0.1:7890",
		DebugLogLevel:            "info",
		CacheTTLSeconds:          3600,
		DownloaderMaxConcurrent:  4,
		DownloaderRetries:        3,
		DownloaderTimeoutSeconds: 300,
	}
}
