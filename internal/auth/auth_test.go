package auth

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/dupdatesystem/getter-go/internal/settings"
)

func init() {
	// bcrypt.MinCost == 4; use minimum cost in tests for speed.
	bcryptCost = 4
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	sm := settings.NewManager(filepath.Join(dir, "settings.json"))
	return NewManager(sm)
}

func TestEnsureDefaultsCreatesToken(t *testing.T) {
	m := newTestManager(t)
	if err := m.EnsureDefaults(); err != nil {
		t.Fatalf("EnsureDefaults: %v", err)
	}
	s, _ := m.settings.Get()
	if s.AuthToken == "" {
		t.Error("expected auth token to be set")
	}
	if s.AuthSecretHash == "" {
		t.Error("expected auth secret hash to be set")
	}
}

func TestEnsureDefaultsIdempotent(t *testing.T) {
	m := newTestManager(t)
	if err := m.EnsureDefaults(); err != nil {
		t.Fatalf("first EnsureDefaults: %v", err)
	}
	s1, _ := m.settings.Get()

	if err := m.EnsureDefaults(); err != nil {
		t.Fatalf("second EnsureDefaults: %v", err)
	}
	s2, _ := m.settings.Get()

	if s1.AuthToken != s2.AuthToken {
		t.Error("token changed on second call")
	}
}

func TestValidateToken(t *testing.T) {
	m := newTestManager(t)
	if err := m.EnsureDefaults(); err != nil {
		t.Fatalf("EnsureDefaults: %v", err)
	}
	token, err := m.GetToken()
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}

	if !m.ValidateToken(token) {
		t.Error("stored token should be valid")
	}
	if m.ValidateToken("badtoken") {
		t.Error("wrong token should be invalid")
	}
	if m.ValidateToken("") {
		t.Error("empty token should be invalid")
	}
}

func TestRegenerateToken(t *testing.T) {
	m := newTestManager(t)
	if err := m.EnsureDefaults(); err != nil {
		t.Fatalf("EnsureDefaults: %v", err)
	}
	old, _ := m.GetToken()

	newToken, err := m.RegenerateToken()
	if err != nil {
		t.Fatalf("RegenerateToken: %v", err)
	}
	if newToken == old {
		t.Error("regenerated token should differ from old token")
	}
	if !m.ValidateToken(newToken) {
		t.Error("new token should be valid")
	}
	if m.ValidateToken(old) {
		t.Error("old token should be invalidated")
	}
}

func TestMiddlewareRejectsMissingOrBadToken(t *testing.T) {
	m := newTestManager(t)
	if err := m.EnsureDefaults(); err != nil {
		t.Fatalf("EnsureDefaults: %v", err)
	}
	token, _ := m.GetToken()

	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "Bearer " + token, http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
			if tc.authHeader != "" {
				req.Header.Set("Authorization", tc.authHeader)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}
