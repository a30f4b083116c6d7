package httputil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetSetsHeadersAndDrainsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing Authorization header")
		}
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	c := New(0)
	resp, err := c.Get(context.Background(), srv.URL, map[string]string{"Authorization": "Bearer tok"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Body) != "hello" {
		t.Fatalf("unexpected body: %q", resp.Body)
	}
	if !resp.IsOK() {
		t.Fatalf("expected OK status")
	}
}

func TestStatusIsOK(t *testing.T) {
	cases := map[int]bool{200: true, 204: true, 399: true, 400: false, 404: false, 599: false, 600: true, 700: true}
	for status, want := range cases {
		if got := StatusIsOK(status); got != want {
			t.Errorf("StatusIsOK(%d) = %v, want %v", status, got, want)
		}
	}
}
