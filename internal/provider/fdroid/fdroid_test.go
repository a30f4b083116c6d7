package fdroid

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dupdatesystem/getter-go/internal/httputil"
	"github.com/dupdatesystem/getter-go/internal/provider"
)

const sampleIndexXML = `<?xml version="1.0" encoding="utf-8"?>
<fdroid>
  <application id="org.fdroid.fdroid.privileged">
    <package>
      <version>1.0</version>
      <versioncode>1</versioncode>
      <apkname>org.fdroid.fdroid.privileged_1.apk</apkname>
      <size>1000</size>
    </package>
  </application>
  <application id="org.fdroid.fdroid.privileged.ota">
    <package>
      <version>1.0</version>
      <versioncode>1</versioncode>
      <apkname>org.fdroid.fdroid.privileged.ota_1.zip</apkname>
      <size>2000</size>
    </package>
  </application>
</fdroid>`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleIndexXML))
	}))
}

func TestFDroidAPKRelease(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	p := New(httputil.New(0))
	in := provider.Input{
		AppData: provider.DataMap{"android_app_package": "org.fdroid.fdroid.privileged"},
		HubData: provider.DataMap{"reverse_proxy": defaultRepoBase + " -> " + srv.URL},
	}
	out, err := p.GetReleases(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Result) == 0 {
		t.Fatalf("expected at least one release")
	}
	if out.Result[0].Assets[0].FileType != "apk" {
		t.Fatalf("expected apk file type, got %q", out.Result[0].Assets[0].FileType)
	}
}

func TestFDroidZipRelease(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	p := New(httputil.New(0))
	in := provider.Input{
		AppData: provider.DataMap{"android_app_package": "org.fdroid.fdroid.privileged.ota"},
		HubData: provider.DataMap{"reverse_proxy": defaultRepoBase + " -> " + srv.URL},
	}
	out, err := p.GetReleases(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Result[0].Assets[0].FileType != "zip" {
		t.Fatalf("expected zip file type, got %q", out.Result[0].Assets[0].FileType)
	}
}

func TestFDroidUnknownPackageIsEmpty(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	p := New(httputil.New(0))
	in := provider.Input{
		AppData: provider.DataMap{"android_app_package": "nonexist"},
		HubData: provider.DataMap{"reverse_proxy": defaultRepoBase + " -> " + srv.URL},
	}
	out, err := p.GetReleases(context.Background(), in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Result) != 0 {
		t.Fatalf("expected no releases for unknown package, got %d", len(out.Result))
	}
}
