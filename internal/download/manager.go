package download

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dupdatesystem/getter-go/internal/apperror"
	"github.com/dupdatesystem/getter-go/internal/diaglog"
)

type taskEntry struct {
	info   TaskInfo
	cancel context.CancelFunc
	speed  *SpeedCalculator
}

// Manager owns every download task under a read-write lock and a
// change-notifier broadcast, grounded on the ancestor's internal/server.go
// watcher-map-plus-broadcast pattern: a sync.RWMutex-guarded map plus a
// sync.Cond that every waiter re-checks after each broadcast.
type Manager struct {
	mu      sync.RWMutex
	cond    *sync.Cond
	tasks   map[string]*taskEntry
	backend Backend
	history *History
	logger  *diaglog.Manager
}

// NewManager builds a Manager that executes downloads on backend,
// optionally persisting removed terminal tasks to history (nil to skip
// persistence).
func NewManager(backend Backend, history *History) *Manager {
	m := &Manager{tasks: make(map[string]*taskEntry), backend: backend, history: history}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// SetLogger attaches a diagnostics logger; nil disables logging. Safe to
// call before any task is submitted.
func (m *Manager) SetLogger(logger *diaglog.Manager) {
	m.mu.Lock()
	m.logger = logger
	m.mu.Unlock()
}

// Submit inserts a Pending task and starts its execution in the
// background, returning the assigned task_id.
func (m *Manager) Submit(url, dest string, opts Options) string {
	taskID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	m.tasks[taskID] = &taskEntry{
		info:   newTaskInfo(taskID, url, dest, opts),
		cancel: cancel,
		speed:  NewDefaultSpeedCalculator(),
	}
	m.mu.Unlock()

	m.logf(func(l *diaglog.Manager) { l.Infof("submitted task %s for %s -> %s", taskID, url, dest) })
	go m.run(ctx, taskID)
	return taskID
}

// logf invokes fn with the attached logger, if any, under the manager's
// lock (the logger itself is internally synchronized, but reading the
// field needs the same protection as SetLogger's write).
func (m *Manager) logf(fn func(*diaglog.Manager)) {
	m.mu.RLock()
	logger := m.logger
	m.mu.RUnlock()
	if logger != nil {
		fn(logger)
	}
}

func (m *Manager) run(ctx context.Context, taskID string) {
	m.setState(taskID, func(info *TaskInfo) {
		now := time.Now()
		info.State = StateDownloading
		info.StartedAt = &now
	})

	task, ok := m.get(taskID)
	if !ok {
		return
	}

	err := m.backend.Download(ctx, task.URL, task.DestPath, task.Options, func(downloaded int64, total *int64) {
		m.mu.Lock()
		entry, ok := m.tasks[taskID]
		if !ok {
			m.mu.Unlock()
			return
		}
		entry.speed.Record(downloaded)
		entry.info.Progress = newProgress(downloaded, total, entry.speed.SpeedBytesPerSec())
		m.mu.Unlock()
		m.cond.Broadcast()
	})

	now := time.Now()
	switch {
	case ctx.Err() != nil:
		m.setState(taskID, func(info *TaskInfo) {
			if info.State == StateStopped {
				return
			}
			info.State = StateCancelled
			info.CompletedAt = &now
		})
		m.logf(func(l *diaglog.Manager) { l.Infof("task %s paused or cancelled", taskID) })
	case err != nil:
		m.setState(taskID, func(info *TaskInfo) {
			info.State = StateFailed
			info.Error = err.Error()
			info.CompletedAt = &now
		})
		m.logf(func(l *diaglog.Manager) { l.Errorf("task %s failed: %v", taskID, err) })
	default:
		m.setState(taskID, func(info *TaskInfo) {
			info.State = StateCompleted
			info.CompletedAt = &now
		})
		m.logf(func(l *diaglog.Manager) { l.Infof("task %s completed", taskID) })
	}
}

func (m *Manager) setState(taskID string, mutate func(*TaskInfo)) {
	m.mu.Lock()
	entry, ok := m.tasks[taskID]
	if ok {
		mutate(&entry.info)
	}
	m.mu.Unlock()
	if ok {
		m.cond.Broadcast()
	}
}

func (m *Manager) get(taskID string) (TaskInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.tasks[taskID]
	if !ok {
		return TaskInfo{}, false
	}
	return entry.info, true
}

// Get returns a copy of taskID's current info.
func (m *Manager) Get(taskID string) (TaskInfo, error) {
	info, ok := m.get(taskID)
	if !ok {
		return TaskInfo{}, apperror.New(apperror.KindNotFound, "task "+taskID+" not found")
	}
	return info, nil
}

// Pause cancels the in-flight execution for taskID, leaving its staging
// file in place for a later Resume. Returns an "unsupported" error if
// the backend disallows pausing.
func (m *Manager) Pause(taskID string) error {
	if !m.backend.Capabilities().SupportsPause {
		return apperror.New(apperror.KindUnsupported, "backend does not support pause")
	}

	m.mu.Lock()
	entry, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return apperror.New(apperror.KindNotFound, "task "+taskID+" not found")
	}
	if !entry.info.State.IsPausable() {
		m.mu.Unlock()
		return apperror.New(apperror.KindConflict, "task is not in a pausable state")
	}
	now := time.Now()
	entry.info.State = StateStopped
	entry.info.ResumeOffset = entry.info.Progress.DownloadedBytes
	entry.info.PausedAt = &now
	cancel := entry.cancel
	m.mu.Unlock()

	cancel()
	m.cond.Broadcast()
	return nil
}

// Resume restarts execution for a Stopped or Failed task from its
// staging file. Returns an "unsupported" error if the backend disallows
// resuming.
func (m *Manager) Resume(taskID string) error {
	if !m.backend.Capabilities().SupportsResume {
		return apperror.New(apperror.KindUnsupported, "backend does not support resume")
	}

	m.mu.Lock()
	entry, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return apperror.New(apperror.KindNotFound, "task "+taskID+" not found")
	}
	if !entry.info.State.IsResumable() {
		m.mu.Unlock()
		return apperror.New(apperror.KindConflict, "task is not in a resumable state")
	}
	entry.info.PausedAt = nil
	entry.info.Error = ""
	ctx, cancel := context.WithCancel(context.Background())
	entry.cancel = cancel
	m.mu.Unlock()

	go m.run(ctx, taskID)
	return nil
}

// Cancel stops execution for taskID permanently. Returns an
// "unsupported" error if the backend disallows cancellation.
func (m *Manager) Cancel(taskID string) error {
	if !m.backend.Capabilities().SupportsCancellation {
		return apperror.New(apperror.KindUnsupported, "backend does not support cancellation")
	}

	m.mu.Lock()
	entry, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return apperror.New(apperror.KindNotFound, "task "+taskID+" not found")
	}
	cancel := entry.cancel
	// A Stopped task has no running execution to observe the cancellation,
	// so it is moved to Cancelled here.
	stopped := entry.info.State == StateStopped
	if stopped {
		now := time.Now()
		entry.info.State = StateCancelled
		entry.info.CompletedAt = &now
	}
	m.mu.Unlock()

	cancel()
	if stopped {
		m.cond.Broadcast()
	}
	return nil
}

// WaitForChange blocks until taskID's state differs from its state at
// call time, timeout elapses, or the task is deleted (an error). A task
// already in a terminal state returns immediately.
func (m *Manager) WaitForChange(ctx context.Context, taskID string, timeout time.Duration) (TaskInfo, error) {
	m.mu.Lock()
	entry, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return TaskInfo{}, apperror.New(apperror.KindNotFound, "task "+taskID+" not found")
	}
	initial := entry.info.State
	if initial.IsTerminal() {
		info := entry.info
		m.mu.Unlock()
		return info, nil
	}
	m.mu.Unlock()

	done := make(chan TaskInfo, 1)
	failed := make(chan error, 1)
	stop := make(chan struct{})

	go func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for {
			select {
			case <-stop:
				return
			default:
			}
			entry, ok := m.tasks[taskID]
			if !ok {
				failed <- apperror.New(apperror.KindNotFound, "task "+taskID+" deleted while waiting")
				return
			}
			if entry.info.State != initial {
				done <- entry.info
				return
			}
			m.cond.Wait()
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case info := <-done:
		close(stop)
		m.cond.Broadcast()
		return info, nil
	case err := <-failed:
		close(stop)
		m.cond.Broadcast()
		return TaskInfo{}, err
	case <-timer.C:
		close(stop)
		m.cond.Broadcast()
		info, _ := m.get(taskID)
		return info, nil
	case <-ctx.Done():
		close(stop)
		m.cond.Broadcast()
		return TaskInfo{}, ctx.Err()
	}
}

// CleanupOldTasks removes terminal tasks whose CompletedAt is older than
// maxAge, recording each into history (if configured) after removal.
// Active tasks are kept regardless of age.
func (m *Manager) CleanupOldTasks(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	var toRemove []string
	for id, entry := range m.tasks {
		if !entry.info.State.IsTerminal() {
			continue
		}
		if entry.info.CompletedAt == nil || entry.info.CompletedAt.After(cutoff) {
			continue
		}
		toRemove = append(toRemove, id)
	}
	removedInfos := make([]TaskInfo, 0, len(toRemove))
	for _, id := range toRemove {
		removedInfos = append(removedInfos, m.tasks[id].info)
		delete(m.tasks, id)
	}
	m.mu.Unlock()

	for _, info := range removedInfos {
		if info.State == StateCancelled {
			if err := os.Remove(info.DestPath + ".tmp"); err != nil && !errors.Is(err, os.ErrNotExist) {
				m.logf(func(l *diaglog.Manager) { l.Errorf("task %s: remove staging file: %v", info.TaskID, err) })
			}
		}
	}

	if m.history != nil {
		for _, info := range removedInfos {
			_ = m.history.Record(info)
		}
	}

	return len(toRemove)
}

// All returns a snapshot of every tracked task.
func (m *Manager) All() []TaskInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TaskInfo, 0, len(m.tasks))
	for _, entry := range m.tasks {
		out = append(out, entry.info)
	}
	return out
}
