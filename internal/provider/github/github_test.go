package github

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dupdatesystem/getter-go/internal/httputil"
	"github.com/dupdatesystem/getter-go/internal/provider"
)

const sampleReleasesJSON = `[
  {
    "tag_name": "0.13-beta.4",
    "name": "0.13-beta.4",
    "body": "Changelog:\r\nAdd Ukrainian Language\r\n更新日志：\r\n添加乌克兰语",
    "assets": [
      {
        "name": "UpgradeAll_0.13-beta.4.apk",
        "content_type": "application/vnd.android.package-archive",
        "browser_download_url": "https://example.com/UpgradeAll_0.13-beta.4.apk"
      }
    ]
  }
]`

func TestGitHubLatestRelease(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleReleasesJSON))
	}))
	defer srv.Close()

	p := New(httputil.New(0))
	in := provider.Input{
		AppData: provider.DataMap{"owner": "DUpdateSystem", "repo": "UpgradeAll"},
		HubData: provider.DataMap{"reverse_proxy": "https://api.github.com -> " + srv.URL},
	}

	out, err := p.GetLatestRelease(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Result.VersionNumber != "0.13-beta.4" {
		t.Fatalf("unexpected version: %q", out.Result.VersionNumber)
	}
	if len(out.Result.Assets) != 1 {
		t.Fatalf("expected 1 asset, got %d", len(out.Result.Assets))
	}
	asset := out.Result.Assets[0]
	if asset.FileName != "UpgradeAll_0.13-beta.4.apk" || asset.FileType != "application/vnd.android.package-archive" {
		t.Fatalf("unexpected asset: %+v", asset)
	}
	wantChangelog := "Changelog:\r\nAdd Ukrainian Language\r\n更新日志：\r\n添加乌克兰语"
	if out.Result.Changelog != wantChangelog {
		t.Fatalf("unexpected changelog: %q", out.Result.Changelog)
	}
}

func TestGitHubMissingOwnerIsInvalidInput(t *testing.T) {
	p := New(httputil.New(0))
	_, err := p.GetLatestRelease(context.Background(), provider.Input{AppData: provider.DataMap{}})
	if err == nil {
		t.Fatalf("expected error for missing owner/repo")
	}
}
