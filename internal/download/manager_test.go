package download

import (
	"context"
	"sync"
	"testing"
	"time"
)

// blockingBackend lets a test control exactly when a download completes,
// and records how many times Download was invoked (Manager.Resume starts
// a fresh run, so each resume counts as a new invocation).
type blockingBackend struct {
	mu           sync.Mutex
	caps         Capabilities
	invocations  int
	releaseCh    chan struct{}
	failNext     bool
	progressHook func(onProgress ProgressFunc)
}

func (b *blockingBackend) Capabilities() Capabilities { return b.caps }

func (b *blockingBackend) Download(ctx context.Context, url, dest string, opts Options, onProgress ProgressFunc) error {
	b.mu.Lock()
	b.invocations++
	fail := b.failNext
	b.failNext = false
	hook := b.progressHook
	b.mu.Unlock()

	if hook != nil {
		hook(onProgress)
	}

	if b.releaseCh == nil {
		if fail {
			return context.DeadlineExceeded
		}
		return nil
	}

	select {
	case <-b.releaseCh:
		if fail {
			return context.DeadlineExceeded
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func fullCaps() Capabilities {
	return Capabilities{
		SupportsPause:         true,
		SupportsResume:        true,
		SupportsCancellation:  true,
		SupportsRangeRequests: true,
		SupportsBatchDownload: true,
	}
}

func TestSubmitRunsToCompletion(t *testing.T) {
	backend := &blockingBackend{caps: fullCaps()}
	mgr := NewManager(backend, nil)

	taskID := mgr.Submit("https://example.com/a", "/tmp/a", Options{})

	deadline := time.After(time.Second)
	for {
		info, err := mgr.Get(taskID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if info.State == StateCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("task did not complete in time, state=%v", info.State)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestPauseThenResume(t *testing.T) {
	backend := &blockingBackend{caps: fullCaps(), releaseCh: make(chan struct{})}
	mgr := NewManager(backend, nil)

	taskID := mgr.Submit("https://example.com/a", "/tmp/a", Options{})

	waitForState(t, mgr, taskID, StateDownloading)

	if err := mgr.Pause(taskID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	waitForState(t, mgr, taskID, StateStopped)

	if err := mgr.Resume(taskID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitForState(t, mgr, taskID, StateDownloading)

	close(backend.releaseCh)
	waitForState(t, mgr, taskID, StateCompleted)
}

func TestCancelIsTerminal(t *testing.T) {
	backend := &blockingBackend{caps: fullCaps(), releaseCh: make(chan struct{})}
	mgr := NewManager(backend, nil)

	taskID := mgr.Submit("https://example.com/a", "/tmp/a", Options{})
	waitForState(t, mgr, taskID, StateDownloading)

	if err := mgr.Cancel(taskID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	waitForState(t, mgr, taskID, StateCancelled)
}

func TestPauseUnsupportedByBackend(t *testing.T) {
	backend := &blockingBackend{caps: Capabilities{}, releaseCh: make(chan struct{})}
	mgr := NewManager(backend, nil)

	taskID := mgr.Submit("https://example.com/a", "/tmp/a", Options{})
	waitForState(t, mgr, taskID, StateDownloading)

	err := mgr.Pause(taskID)
	if err == nil {
		t.Fatalf("expected unsupported error")
	}
}

func TestWaitForChangeReturnsOnTransition(t *testing.T) {
	backend := &blockingBackend{caps: fullCaps(), releaseCh: make(chan struct{})}
	mgr := NewManager(backend, nil)

	taskID := mgr.Submit("https://example.com/a", "/tmp/a", Options{})
	waitForState(t, mgr, taskID, StateDownloading)

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(backend.releaseCh)
	}()

	info, err := mgr.WaitForChange(context.Background(), taskID, time.Second)
	if err != nil {
		t.Fatalf("WaitForChange: %v", err)
	}
	if info.State != StateCompleted {
		t.Fatalf("state = %v, want completed", info.State)
	}
}

func TestWaitForChangeTimesOutWithoutTransition(t *testing.T) {
	backend := &blockingBackend{caps: fullCaps(), releaseCh: make(chan struct{})}
	mgr := NewManager(backend, nil)

	taskID := mgr.Submit("https://example.com/a", "/tmp/a", Options{})
	waitForState(t, mgr, taskID, StateDownloading)

	start := time.Now()
	info, err := mgr.WaitForChange(context.Background(), taskID, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForChange: %v", err)
	}
	if info.State != StateDownloading {
		t.Fatalf("state = %v, want downloading", info.State)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("returned before timeout elapsed")
	}
}

func TestWaitForChangeOnAlreadyTerminalTaskReturnsImmediately(t *testing.T) {
	backend := &blockingBackend{caps: fullCaps()}
	mgr := NewManager(backend, nil)

	taskID := mgr.Submit("https://example.com/a", "/tmp/a", Options{})
	waitForState(t, mgr, taskID, StateCompleted)

	info, err := mgr.WaitForChange(context.Background(), taskID, time.Second)
	if err != nil {
		t.Fatalf("WaitForChange: %v", err)
	}
	if info.State != StateCompleted {
		t.Fatalf("state = %v, want completed", info.State)
	}
}

func TestCleanupOldTasksKeepsActiveRegardlessOfAge(t *testing.T) {
	backend := &blockingBackend{caps: fullCaps(), releaseCh: make(chan struct{})}
	mgr := NewManager(backend, nil)

	taskID := mgr.Submit("https://example.com/a", "/tmp/a", Options{})
	waitForState(t, mgr, taskID, StateDownloading)

	removed := mgr.CleanupOldTasks(0)
	if removed != 0 {
		t.Fatalf("expected active task to survive cleanup, removed=%d", removed)
	}
	if _, err := mgr.Get(taskID); err != nil {
		t.Fatalf("Get: %v", err)
	}
}

func TestCleanupOldTasksRemovesOldTerminalTasks(t *testing.T) {
	backend := &blockingBackend{caps: fullCaps()}
	mgr := NewManager(backend, nil)

	taskID := mgr.Submit("https://example.com/a", "/tmp/a", Options{})
	waitForState(t, mgr, taskID, StateCompleted)

	removed := mgr.CleanupOldTasks(0)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := mgr.Get(taskID); err == nil {
		t.Fatalf("expected task to be gone after cleanup")
	}
}

func waitForState(t *testing.T, mgr *Manager, taskID string, want State) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		info, err := mgr.Get(taskID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if info.State == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("task never reached state %v, last=%v", want, info.State)
		case <-time.After(time.Millisecond):
		}
	}
}
