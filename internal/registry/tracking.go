package registry

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/dupdatesystem/getter-go/internal/apperror"
	"github.com/dupdatesystem/getter-go/internal/atomicfile"
)

// TrackingState records per-tracked-app runtime preferences: whether the
// app is starred and an optional ignored version that should never be
// reported as an update.
type TrackingState struct {
	Starred        bool   `json:"starred,omitempty"`
	IgnoredVersion string `json:"ignored_version,omitempty"`
}

// Tracker persists the tracked-app list (config/app_list) and per-app
// tracking state (config/tracking.json), serializing concurrent
// read-modify-write cycles with an flock on the list file the way the
// ancestor daemon serialized rewrites to its rule list.
type Tracker struct {
	dataDir string
	mu      sync.Mutex
}

// NewTracker builds a Tracker rooted at dataDir.
func NewTracker(dataDir string) *Tracker {
	return &Tracker{dataDir: dataDir}
}

func (t *Tracker) listPath() string     { return filepath.Join(t.dataDir, "config", "app_list") }
func (t *Tracker) trackingPath() string { return filepath.Join(t.dataDir, "config", "tracking.json") }
func (t *Tracker) legacyListPath() string {
	return filepath.Join(t.dataDir, "rule_list")
}

// withFileLock opens path (creating it if absent) and holds an exclusive
// flock for the duration of fn, the same mutual-exclusion primitive the
// ancestor daemon used to serialize rewrites of its own flat list file.
func withFileLock(path string, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperror.Wrap(apperror.KindFilesystem, "create config directory", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return apperror.Wrap(apperror.KindFilesystem, "open lock file", err)
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return apperror.Wrap(apperror.KindFilesystem, "lock config file", err)
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	return fn()
}

// List returns every tracked app identifier, importing the legacy
// rule_list on first run if config/app_list does not yet exist.
func (t *Tracker) List() ([]Identifier, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.importLegacyListLocked(); err != nil {
		return nil, err
	}

	var ids []Identifier
	err := withFileLock(t.listPath(), func() error {
		parsed, readErr := readIdentifierList(t.listPath())
		if readErr != nil {
			return readErr
		}
		ids = parsed
		return nil
	})
	return ids, err
}

func readIdentifierList(path string) ([]Identifier, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.KindFilesystem, "read tracked app list", err)
	}
	defer f.Close()

	var ids []Identifier
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, err := ParseIdentifier(line)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperror.Wrap(apperror.KindFilesystem, "scan tracked app list", err)
	}
	return ids, nil
}

// importLegacyListLocked imports <data_dir>/rule_list into
// config/app_list on first run, never writing the legacy file back.
func (t *Tracker) importLegacyListLocked() error {
	if _, err := os.Stat(t.listPath()); err == nil {
		return nil
	}
	legacy, err := os.ReadFile(t.legacyListPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return apperror.Wrap(apperror.KindFilesystem, "read legacy rule list", err)
	}
	return atomicfile.Write(t.listPath(), legacy, 0o644)
}

// Add appends id to the tracked app list if not already present.
func (t *Tracker) Add(id Identifier) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return withFileLock(t.listPath(), func() error {
		ids, err := readIdentifierList(t.listPath())
		if err != nil {
			return err
		}
		for _, existing := range ids {
			if existing == id {
				return nil
			}
		}
		ids = append(ids, id)
		return writeIdentifierList(t.listPath(), ids)
	})
}

// Remove deletes id from the tracked app list and its tracking state.
func (t *Tracker) Remove(id Identifier) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	err := withFileLock(t.listPath(), func() error {
		ids, err := readIdentifierList(t.listPath())
		if err != nil {
			return err
		}
		kept := ids[:0]
		for _, existing := range ids {
			if existing != id {
				kept = append(kept, existing)
			}
		}
		return writeIdentifierList(t.listPath(), kept)
	})
	if err != nil {
		return err
	}

	return withFileLock(t.trackingPath(), func() error {
		states, err := readTrackingStates(t.trackingPath())
		if err != nil {
			return err
		}
		delete(states, id.String())
		return writeTrackingStates(t.trackingPath(), states)
	})
}

func writeIdentifierList(path string, ids []Identifier) error {
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(id.String())
		b.WriteByte('\n')
	}
	return atomicfile.Write(path, []byte(b.String()), 0o644)
}

func readTrackingStates(path string) (map[string]TrackingState, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return make(map[string]TrackingState), nil
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.KindFilesystem, "read tracking state", err)
	}
	states := make(map[string]TrackingState)
	if err := json.Unmarshal(data, &states); err != nil {
		return nil, apperror.Wrap(apperror.KindFilesystem, "decode tracking state", err)
	}
	return states, nil
}

func writeTrackingStates(path string, states map[string]TrackingState) error {
	data, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return apperror.Wrap(apperror.KindFilesystem, "encode tracking state", err)
	}
	return atomicfile.Write(path, data, 0o644)
}

// GetState returns the tracking state for id, the zero value if unset.
func (t *Tracker) GetState(id Identifier) (TrackingState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var state TrackingState
	err := withFileLock(t.trackingPath(), func() error {
		states, err := readTrackingStates(t.trackingPath())
		if err != nil {
			return err
		}
		state = states[id.String()]
		return nil
	})
	return state, err
}

// SetState overwrites the tracking state for id.
func (t *Tracker) SetState(id Identifier, state TrackingState) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return withFileLock(t.trackingPath(), func() error {
		states, err := readTrackingStates(t.trackingPath())
		if err != nil {
			return err
		}
		states[id.String()] = state
		return writeTrackingStates(t.trackingPath(), states)
	})
}
