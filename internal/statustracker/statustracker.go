// Package statustracker holds the in-memory per-app status view (C7):
// current/latest version and a derived AppStatus, guarded by a single
// mutex over one map the way the ancestor daemon's internal/settings
// Manager guards its cache field.
package statustracker

import (
	"sync"
	"time"

	"github.com/dupdatesystem/getter-go/internal/version"
)

// AppStatus is the derived freshness state of a tracked app.
type AppStatus int

const (
	StatusInactive AppStatus = iota
	StatusPending
	StatusNetworkError
	StatusLatest
	StatusOutdated
	StatusNoLocal
)

func (s AppStatus) String() string {
	switch s {
	case StatusInactive:
		return "inactive"
	case StatusPending:
		return "pending"
	case StatusNetworkError:
		return "network_error"
	case StatusLatest:
		return "latest"
	case StatusOutdated:
		return "outdated"
	case StatusNoLocal:
		return "no_local"
	default:
		return "unknown"
	}
}

// Info is the tracked snapshot for one app identifier.
type Info struct {
	Identifier     string
	Status         AppStatus
	CurrentVersion string
	LatestVersion  string
	LastChecked    time.Time
}

// Tracker is a sync.Mutex-guarded map[string]Info.
type Tracker struct {
	mu     sync.Mutex
	byID   map[string]Info
	nowFn  func() time.Time
}

// New builds an empty Tracker.
func New() *Tracker {
	return &Tracker{byID: make(map[string]Info), nowFn: time.Now}
}

// Seed inserts identifier with StatusInactive if not already present.
func (t *Tracker) Seed(identifier string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byID[identifier]; !ok {
		t.byID[identifier] = Info{Identifier: identifier, Status: StatusInactive}
	}
}

// Remove deletes identifier, reporting whether it was present.
func (t *Tracker) Remove(identifier string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byID[identifier]; !ok {
		return false
	}
	delete(t.byID, identifier)
	return true
}

// UpdateStatus sets identifier's status directly and stamps LastChecked.
func (t *Tracker) UpdateStatus(identifier string, status AppStatus) Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	info := t.byID[identifier]
	info.Identifier = identifier
	info.Status = status
	info.LastChecked = t.nowFn()
	t.byID[identifier] = info
	return info
}

// SetVersions records current/latest versions and re-derives status:
// equal versions yield Latest, current older than latest yields
// Outdated, a missing current version yields NoLocal.
func (t *Tracker) SetVersions(identifier, current, latest string) Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	info := t.byID[identifier]
	info.Identifier = identifier
	info.CurrentVersion = current
	info.LatestVersion = latest
	info.LastChecked = t.nowFn()

	switch {
	case current == "":
		info.Status = StatusNoLocal
	case latest == "" || version.Equal(version.New(current), version.New(latest)):
		info.Status = StatusLatest
	case version.LessThan(version.New(current), version.New(latest)):
		info.Status = StatusOutdated
	default:
		info.Status = StatusLatest
	}

	t.byID[identifier] = info
	return info
}

// Get returns a copy of identifier's tracked info.
func (t *Tracker) Get(identifier string) (Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.byID[identifier]
	return info, ok
}

// All returns a copy of every tracked app's info.
func (t *Tracker) All() []Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Info, 0, len(t.byID))
	for _, info := range t.byID {
		out = append(out, info)
	}
	return out
}
