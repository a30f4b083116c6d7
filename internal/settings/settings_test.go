package settings

import (
	"path/filepath"
	"testing"
)

func TestManagerGetMissingReturnsDefaults(t *testing.T) {
	manager := NewManager(filepath.Join(t.TempDir(), "settings.json"))
	current, err := manager.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if current.BindAddr != "127.0.0.1:7890" {
		t.Fatalf("expected default bind addr, got %q", current.BindAddr)
	}
	if current.DownloaderRetries != 3 {
		t.Fatalf("expected default retries 3, got %d", current.DownloaderRetries)
	}
}

func TestManagerSaveAndGetRoundTrip(t *testing.T) {
	manager := NewManager(filepath.Join(t.TempDir(), "settings.json"))
	input := Settings{
		BindAddr:                 "0.0.0.0:9000",
		DebugLogEnabled:          true,
		DebugLogLevel:            "debug",
		CacheTTLSeconds:          7200,
		DownloaderMaxConcurrent:  8,
		DownloaderRetries:        5,
		DownloaderTimeoutSeconds: 120,
		AuthSecretHash:           "hash",
		AuthToken:                "token",
	}

	if err := manager.Save(input); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// A fresh manager reading the same file should see the saved values.
	reloaded := NewManager(manager.path)
	got, err := reloaded.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != input {
		t.Fatalf("got %+v, want %+v", got, input)
	}
}

func TestManagerCachesAfterFirstLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	manager := NewManager(path)

	if _, err := manager.Get(); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := manager.Save(Settings{BindAddr: "1.2.3.4:5"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := manager.Get()
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.BindAddr != "1.2.3.4:5" {
		t.Fatalf("expected cached value to reflect save, got %q", got.BindAddr)
	}
}
