package statustracker

import "testing"

func TestSetVersionsDerivesStatus(t *testing.T) {
	tr := New()

	info := tr.SetVersions("a::github", "1.0.0", "1.0.0")
	if info.Status != StatusLatest {
		t.Fatalf("expected Latest for equal versions, got %v", info.Status)
	}

	info = tr.SetVersions("b::github", "1.0.0", "1.1.0")
	if info.Status != StatusOutdated {
		t.Fatalf("expected Outdated, got %v", info.Status)
	}

	info = tr.SetVersions("c::github", "", "1.1.0")
	if info.Status != StatusNoLocal {
		t.Fatalf("expected NoLocal for missing current version, got %v", info.Status)
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	tr := New()
	tr.Seed("a::github")
	tr.UpdateStatus("a::github", StatusPending)
	tr.Seed("a::github")

	info, ok := tr.Get("a::github")
	if !ok {
		t.Fatalf("expected entry present")
	}
	if info.Status != StatusPending {
		t.Fatalf("expected seed to not clobber existing status, got %v", info.Status)
	}
}

func TestRemoveReportsPresence(t *testing.T) {
	tr := New()
	tr.Seed("a::github")

	if !tr.Remove("a::github") {
		t.Fatalf("expected removal of present entry to report true")
	}
	if tr.Remove("a::github") {
		t.Fatalf("expected removal of absent entry to report false")
	}
}

func TestAllReturnsCopies(t *testing.T) {
	tr := New()
	tr.Seed("a::github")
	tr.Seed("b::github")

	all := tr.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(all))
	}
}
