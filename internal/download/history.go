package download

import (
	"database/sql"
	"fmt"
	"time"
)

// History persists removed terminal tasks, grounded on the ancestor's
// internal/stats/persistence.go tx.Begin/insert/Commit pattern, adapted
// from a full-table-replace (DELETE then batch-insert) to an upsert per
// task since task_history accumulates rather than mirrors an in-memory set.
type History struct {
	db *sql.DB
}

// NewHistory wraps a database handle for task-history persistence.
func NewHistory(db *sql.DB) *History {
	return &History{db: db}
}

// Record upserts info into task_history. Intended for terminal tasks
// being evicted from the live task map.
func (h *History) Record(info TaskInfo) error {
	if h.db == nil {
		return fmt.Errorf("database handle is required")
	}

	var startedAt, completedAt sql.NullInt64
	if info.StartedAt != nil {
		startedAt = sql.NullInt64{Int64: info.StartedAt.Unix(), Valid: true}
	}
	if info.CompletedAt != nil {
		completedAt = sql.NullInt64{Int64: info.CompletedAt.Unix(), Valid: true}
	}

	var totalBytes sql.NullInt64
	if info.Progress.TotalBytes != nil {
		totalBytes = sql.NullInt64{Int64: *info.Progress.TotalBytes, Valid: true}
	}

	var errText sql.NullString
	if info.Error != "" {
		errText = sql.NullString{String: info.Error, Valid: true}
	}

	_, err := h.db.Exec(`
		INSERT INTO task_history
			(task_id, url, dest_path, state, downloaded_bytes, total_bytes, error, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			state = excluded.state,
			downloaded_bytes = excluded.downloaded_bytes,
			total_bytes = excluded.total_bytes,
			error = excluded.error,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at
	`,
		info.TaskID, info.URL, info.DestPath, info.State.String(),
		info.Progress.DownloadedBytes, totalBytes, errText,
		info.CreatedAt.Unix(), startedAt, completedAt,
	)
	return err
}

// HistoryEntry is one row read back from task_history.
type HistoryEntry struct {
	TaskID          string
	URL             string
	DestPath        string
	State           string
	DownloadedBytes int64
	TotalBytes      *int64
	Error           string
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// List returns up to limit task_history rows, most recently completed first.
func (h *History) List(limit int) ([]HistoryEntry, error) {
	if h.db == nil {
		return nil, fmt.Errorf("database handle is required")
	}

	rows, err := h.db.Query(`
		SELECT task_id, url, dest_path, state, downloaded_bytes, total_bytes, error, created_at, started_at, completed_at
		FROM task_history
		ORDER BY completed_at DESC NULLS LAST, created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var (
			entry                  HistoryEntry
			totalBytes             sql.NullInt64
			errText                sql.NullString
			createdAt              int64
			startedAt, completedAt sql.NullInt64
		)
		if err := rows.Scan(&entry.TaskID, &entry.URL, &entry.DestPath, &entry.State,
			&entry.DownloadedBytes, &totalBytes, &errText, &createdAt, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = time.Unix(createdAt, 0)
		if totalBytes.Valid {
			v := totalBytes.Int64
			entry.TotalBytes = &v
		}
		if errText.Valid {
			entry.Error = errText.String
		}
		if startedAt.Valid {
			t := time.Unix(startedAt.Int64, 0)
			entry.StartedAt = &t
		}
		if completedAt.Valid {
			t := time.Unix(completedAt.Int64, 0)
			entry.CompletedAt = &t
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
