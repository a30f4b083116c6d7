package magisk

import (
	"context"
	"testing"

	"github.com/dupdatesystem/getter-go/internal/provider"
)

type fakeQuerier struct {
	version   string
	installed bool
}

func (f fakeQuerier) InstalledModuleVersion(ctx context.Context, id string) (string, bool, error) {
	return f.version, f.installed, nil
}

func TestInstalledModuleFallsBackToLocalVersion(t *testing.T) {
	p := New(fakeQuerier{version: "1.1", installed: true}, nil)
	out, err := p.GetLatestRelease(context.Background(), provider.Input{
		AppData: provider.DataMap{"android_app_package": "com.example.module"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Result.VersionNumber != "1.1" {
		t.Fatalf("unexpected version: %q", out.Result.VersionNumber)
	}
}
