package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestGetAppConfigMergesAcrossRepositoriesByPriority(t *testing.T) {
	dir := t.TempDir()

	low := filepath.Join(dir, "repo-low")
	high := filepath.Join(dir, "repo-high")
	writeFile(t, filepath.Join(low, "apps", "demo.json"), `{"name":"demo","metadata":{"icon":"low.png","category":"tools"}}`)
	writeFile(t, filepath.Join(high, "apps", "demo.json"), `{"metadata":{"icon":"high.png"}}`)

	m := New(dir, []Repository{
		{Name: "low", Path: low, Priority: 1, Enabled: true},
		{Name: "high", Path: high, Priority: 10, Enabled: true},
	})

	cfg, err := m.GetAppConfig("demo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Name != "demo" {
		t.Fatalf("expected name preserved from lower-priority repo, got %q", cfg.Name)
	}
	icon, _ := cfg.Metadata["icon"].(string)
	if icon != "high.png" {
		t.Fatalf("expected higher-priority repo to win, got %q", icon)
	}
	category, _ := cfg.Metadata["category"].(string)
	if category != "tools" {
		t.Fatalf("expected untouched field preserved, got %q", category)
	}
}

func TestLocalOverrideAppliesLastAndCanRemoveFields(t *testing.T) {
	dir := t.TempDir()
	repo := filepath.Join(dir, "repo")
	writeFile(t, filepath.Join(repo, "apps", "demo.json"), `{"name":"demo","metadata":{"icon":"x.png","beta":true}}`)
	writeFile(t, filepath.Join(dir, "config", "apps", "demo.json"), `{"metadata":{"beta":null}}`)

	m := New(dir, []Repository{{Name: "repo", Path: repo, Priority: 0, Enabled: true}})

	cfg, err := m.GetAppConfig("demo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, present := cfg.Metadata["beta"]; present {
		t.Fatalf("expected null patch to remove field, metadata=%v", cfg.Metadata)
	}
	icon, _ := cfg.Metadata["icon"].(string)
	if icon != "x.png" {
		t.Fatalf("expected untouched field preserved, got %q", icon)
	}
}

func TestDisabledRepositoryIsIgnored(t *testing.T) {
	dir := t.TempDir()
	repo := filepath.Join(dir, "repo")
	writeFile(t, filepath.Join(repo, "apps", "demo.json"), `{"name":"demo"}`)

	m := New(dir, []Repository{{Name: "repo", Path: repo, Priority: 5, Enabled: false}})

	if _, err := m.GetAppConfig("demo"); err == nil {
		t.Fatalf("expected not-found error for disabled repository")
	}
}

func TestGetAppConfigNotFoundAcrossAllRepositories(t *testing.T) {
	dir := t.TempDir()
	m := New(dir, nil)
	if _, err := m.GetAppConfig("missing"); err == nil {
		t.Fatalf("expected error for unknown app")
	}
}

func TestGetHubConfigReadsProviderType(t *testing.T) {
	dir := t.TempDir()
	repo := filepath.Join(dir, "repo")
	writeFile(t, filepath.Join(repo, "hubs", "github.json"), `{"name":"GitHub","provider_type":"github"}`)

	m := New(dir, []Repository{{Name: "repo", Path: repo, Priority: 0, Enabled: true}})
	cfg, err := m.GetHubConfig("github")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ProviderType != "github" {
		t.Fatalf("unexpected provider type: %q", cfg.ProviderType)
	}
}

func TestIdentifierParsing(t *testing.T) {
	id, err := ParseIdentifier("com.example.app::github")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.AppID != "com.example.app" || id.HubID != "github" {
		t.Fatalf("unexpected identifier: %+v", id)
	}
	if id.String() != "com.example.app::github" {
		t.Fatalf("round trip mismatch: %q", id.String())
	}

	for _, bad := range []string{"noseparator", "a::b::c", "::b", "a::", ""} {
		if _, err := ParseIdentifier(bad); err == nil {
			t.Fatalf("expected error parsing %q", bad)
		}
	}
}

func TestTrackerAddListRemove(t *testing.T) {
	dir := t.TempDir()
	tr := NewTracker(dir)

	id1, _ := ParseIdentifier("com.example.a::github")
	id2, _ := ParseIdentifier("com.example.b::gitlab")

	for _, id := range []Identifier{id1, id2, id1} {
		if err := tr.Add(id); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	ids, err := tr.List()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 tracked apps after duplicate add, got %d: %v", len(ids), ids)
	}

	if err := tr.SetState(id1, TrackingState{Starred: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := tr.Remove(id1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ids, err = tr.List()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 1 || ids[0] != id2 {
		t.Fatalf("unexpected tracked apps after remove: %v", ids)
	}

	state, err := tr.GetState(id1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Starred {
		t.Fatalf("expected tracking state cleared after remove")
	}
}

func TestTrackerImportsLegacyRuleListOnce(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "rule_list"), "com.example.a::github\n# comment\ncom.example.b::gitlab\n")

	tr := NewTracker(dir)
	ids, err := tr.List()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected legacy list imported, got %v", ids)
	}

	// Legacy file must not be rewritten, and a later edit to it must not
	// resurface once config/app_list exists.
	writeFile(t, filepath.Join(dir, "rule_list"), "com.example.c::github\n")
	ids, err = tr.List()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected legacy list imported only once, got %v", ids)
	}
}

func TestLoadRepositoriesResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "repos.conf"), `[{"name":"extra","path":"extra-repo","priority":5,"enabled":true}]`)

	repos, err := LoadRepositories(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repos) != 1 {
		t.Fatalf("expected 1 repository, got %d", len(repos))
	}
	if repos[0].Path != filepath.Join(dir, "extra-repo") {
		t.Fatalf("expected relative path resolved against data dir, got %q", repos[0].Path)
	}
}
