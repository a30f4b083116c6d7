// Package auth manages the daemon's RPC bearer token, trimmed from the
// ancestor's internal/auth password+token surface down to the token-only
// part this daemon needs — there is no browser login page to protect here.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"

	"github.com/dupdatesystem/getter-go/internal/settings"
)

// bcryptCost is the work factor used when hashing the RPC secret.
// Lowered in tests via this unexported package-level variable.
var bcryptCost = bcrypt.DefaultCost

// Manager handles RPC bearer-token issuance and validation. Token state
// is persisted inside the Settings struct.
type Manager struct {
	settings *settings.Manager
}

// NewManager creates an auth manager backed by the provided settings manager.
func NewManager(sm *settings.Manager) *Manager {
	return &Manager{settings: sm}
}

// EnsureDefaults generates and persists a bearer token on first run.
func (m *Manager) EnsureDefaults() error {
	s, err := m.settings.Get()
	if err != nil {
		return err
	}
	if s.AuthToken != "" {
		return nil
	}

	token, err := generateToken()
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcryptCost)
	if err != nil {
		return err
	}
	s.AuthToken = token
	s.AuthSecretHash = string(hash)
	return m.settings.Save(s)
}

// ValidateToken returns true if token matches the stored bearer token.
// Uses constant-time comparison to prevent timing attacks.
func (m *Manager) ValidateToken(token string) bool {
	if token == "" {
		return false
	}
	s, err := m.settings.Get()
	if err != nil || s.AuthToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.AuthToken)) == 1
}

// GetToken returns the current bearer token.
func (m *Manager) GetToken() (string, error) {
	s, err := m.settings.Get()
	if err != nil {
		return "", err
	}
	return s.AuthToken, nil
}

// RegenerateToken creates a new random bearer token, persists it and its
// hash, and returns it. Existing holders of the old token are invalidated.
func (m *Manager) RegenerateToken() (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcryptCost)
	if err != nil {
		return "", err
	}
	s, err := m.settings.Get()
	if err != nil {
		return "", err
	}
	s.AuthToken = token
	s.AuthSecretHash = string(hash)
	if err := m.settings.Save(s); err != nil {
		return "", err
	}
	return token, nil
}

// generateToken returns a cryptographically random 32-byte hex string.
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
