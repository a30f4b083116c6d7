// Package download implements the Download Engine (C9): a backend
// contract for fetching release assets plus a task manager that tracks
// progress, supports pause/resume/cancel, and long-polls for state
// changes, generalizing the ancestor's internal/update downloadFileWithSHA256
// streaming-GET idiom and the original daemon's downloader/state.rs task
// model.
package download

import "time"

// State is a download task's lifecycle stage.
type State int

const (
	StatePending State = iota
	StateDownloading
	StateStopped
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateDownloading:
		return "downloading"
	case StateStopped:
		return "stopped"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further state transition is possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// IsActive reports whether the task still occupies a manager slot.
func (s State) IsActive() bool {
	return s == StatePending || s == StateDownloading || s == StateStopped
}

// IsResumable reports whether resume is meaningful from this state.
func (s State) IsResumable() bool {
	return s == StateStopped || s == StateFailed
}

// IsPausable reports whether pause is meaningful from this state.
func (s State) IsPausable() bool {
	return s == StateDownloading
}

// Progress is a point-in-time snapshot of a task's transfer progress.
type Progress struct {
	DownloadedBytes  int64
	TotalBytes       *int64
	SpeedBytesPerSec *int64
	ETASeconds       *int64
}

func newProgress(downloaded int64, total *int64, speed *int64) Progress {
	p := Progress{DownloadedBytes: downloaded, TotalBytes: total, SpeedBytesPerSec: speed}
	if total != nil && speed != nil && *speed > 0 && *total > downloaded {
		eta := (*total - downloaded) / *speed
		p.ETASeconds = &eta
	}
	return p
}

// Capabilities describes what operations a Backend actually supports.
type Capabilities struct {
	SupportsPause         bool
	SupportsResume        bool
	SupportsCancellation  bool
	SupportsRangeRequests bool
	SupportsBatchDownload bool
}

// Options carries per-task request customization.
type Options struct {
	Headers map[string]string
	Cookies map[string]string
}

// TaskInfo is the complete, serializable state of one download task.
type TaskInfo struct {
	TaskID        string
	URL           string
	DestPath      string
	State         State
	Progress      Progress
	ResumeOffset  int64
	SupportsRange *bool
	Error         string
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	PausedAt      *time.Time
	Options       Options
}

func newTaskInfo(taskID, url, dest string, opts Options) TaskInfo {
	return TaskInfo{
		TaskID:   taskID,
		URL:      url,
		DestPath: dest,
		State:    StatePending,
		Options:  opts,
	}
}
