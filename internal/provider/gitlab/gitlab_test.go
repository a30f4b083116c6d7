package gitlab

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dupdatesystem/getter-go/internal/httputil"
	"github.com/dupdatesystem/getter-go/internal/provider"
)

func TestGitLabReleasesRewritesUploadAssetURLs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v4/projects/foo%2Fbar/releases", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"tag_name":"v1.0.0","description":"notes","assets":{"links":[{"name":"asset.zip","url":"/uploads/abc/asset.zip","link_type":"package"}]}}]`))
	})
	mux.HandleFunc("/api/v4/projects/foo%2Fbar", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":42}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := New(httputil.New(0))
	in := provider.Input{
		AppData: provider.DataMap{"owner": "foo", "repo": "bar"},
		HubData: provider.DataMap{"reverse_proxy": "https://gitlab.com/api/v4 -> " + srv.URL + "/api/v4"},
	}

	out, err := p.GetReleases(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Result) != 1 {
		t.Fatalf("expected 1 release, got %d", len(out.Result))
	}
	asset := out.Result[0].Assets[0]
	if !strings.Contains(asset.DownloadURL, "/-/project/42/uploads/abc/asset.zip") {
		t.Fatalf("unexpected rewritten asset url: %q", asset.DownloadURL)
	}
}
