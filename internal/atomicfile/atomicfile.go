// Package atomicfile provides the write-to-temp-then-rename idiom used
// throughout this daemon for settings, tracking state, job files, and
// cache entries, so a reader never observes a partially written file.
package atomicfile

import (
	"os"
	"path/filepath"
)

// Write writes data to path atomically by writing to a sibling ".tmp" file
// and renaming it into place.
func Write(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
