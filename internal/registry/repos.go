package registry

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/dupdatesystem/getter-go/internal/apperror"
)

// LoadRepositories reads <data_dir>/repos.conf, a JSON array of
// Repository entries. A relative Path is resolved against dataDir.
// A missing file yields an empty list; New still adds the default
// in-tree repository on top of whatever this returns.
func LoadRepositories(dataDir string) ([]Repository, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, "repos.conf"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.KindFilesystem, "read repos.conf", err)
	}

	var repos []Repository
	if err := json.Unmarshal(data, &repos); err != nil {
		return nil, apperror.Wrap(apperror.KindFilesystem, "decode repos.conf", err)
	}
	for i, r := range repos {
		if !filepath.IsAbs(r.Path) {
			repos[i].Path = filepath.Join(dataDir, r.Path)
		}
	}
	return repos, nil
}
