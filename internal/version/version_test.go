package version

import "testing"

func TestTotalOrder(t *testing.T) {
	v1_0 := New("1.0")
	v1_0_0 := New("1.0.0")
	v1_0_1alpha := New("1.0.1-alpha")
	v1_0_1 := New("1.0.1")

	if !Equal(v1_0, v1_0_0) {
		t.Fatalf("expected 1.0 == 1.0.0")
	}
	if !LessThan(v1_0_0, v1_0_1alpha) {
		t.Fatalf("expected 1.0.0 < 1.0.1-alpha")
	}
	if !LessThan(v1_0_1alpha, v1_0_1) {
		t.Fatalf("expected 1.0.1-alpha < 1.0.1")
	}
}

func TestValidExtractsSubstring(t *testing.T) {
	v := New("App v1.2.3 final build")
	match, ok := v.Valid()
	if !ok {
		t.Fatalf("expected a valid version substring")
	}
	if match == "" {
		t.Fatalf("expected non-empty match")
	}
}

func TestInvalidWhenNoDigits(t *testing.T) {
	v := New("not-a-version")
	if v.IsValid() {
		t.Fatalf("expected invalid version")
	}
}
