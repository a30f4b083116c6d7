package lsposed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dupdatesystem/getter-go/internal/httputil"
	"github.com/dupdatesystem/getter-go/internal/provider"
)

func TestLSPosedFindsModuleByPackage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"name":"com.example.module","releases":[{"tag_name":"1.2.0","description":"notes","releaseAssets":[{"name":"mod.zip","content_type":"application/zip","browser_download_url":"https://example.com/mod.zip"}]}]}]`))
	}))
	defer srv.Close()

	p := New(httputil.New(0))
	in := provider.Input{
		AppData: provider.DataMap{"android_app_package": "com.example.module"},
		HubData: provider.DataMap{"reverse_proxy": indexURL + " -> " + srv.URL},
	}
	out, err := p.GetLatestRelease(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Result.VersionNumber != "1.2.0" {
		t.Fatalf("unexpected version: %q", out.Result.VersionNumber)
	}
}

func TestLSPosedUnknownModuleIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	p := New(httputil.New(0))
	in := provider.Input{
		AppData: provider.DataMap{"android_app_package": "nonexist"},
		HubData: provider.DataMap{"reverse_proxy": indexURL + " -> " + srv.URL},
	}
	out, err := p.CheckAppAvailable(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Result {
		t.Fatalf("expected unavailable")
	}
}
