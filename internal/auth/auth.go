// Package auth provides API authentication for ExitGuard.
//
// Authentication model:
// - Tracking endpoints (track, intervention, convert): shared API key,
//   issued to the storefront snippet out of band
// - Dashboard endpoints: opaque bearer token from POST /api/login
// - Health, metrics: no auth
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

// Errors
var (
	ErrNoToken        = errors.New("authentication token required")
	ErrInvalidToken   = errors.New("invalid or expired token")
	ErrBadCredentials = errors.New("invalid credentials")
)

// TokenTTL is how long a dashboard login stays valid.
const TokenTTL = 24 * time.Hour

// Token represents an issued dashboard token.
type Token struct {
	Hash      string // SHA256 hash of the raw token (stored)
	User      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Manager issues and validates dashboard tokens against configured
// credentials. Tokens live in memory; a restart just means logging in again.
type Manager struct {
	user     string
	password string

	mu     sync.RWMutex
	tokens map[string]*Token // by hash
}

// NewManager creates a dashboard auth manager for the configured credentials.
func NewManager(user, password string) *Manager {
	return &Manager{
		user:     user,
		password: password,
		tokens:   make(map[string]*Token),
	}
}

// Login checks credentials and issues a raw bearer token (shown once).
func (m *Manager) Login(user, password string) (string, error) {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(m.user)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(m.password)) == 1
	if !userOK || !passOK {
		return "", ErrBadCredentials
	}

	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	raw := "dt_" + hex.EncodeToString(b)

	now := time.Now()
	token := &Token{
		Hash:      hashToken(raw),
		User:      user,
		IssuedAt:  now,
		ExpiresAt: now.Add(TokenTTL),
	}

	m.mu.Lock()
	m.tokens[token.Hash] = token
	m.pruneExpiredLocked(now)
	m.mu.Unlock()

	return raw, nil
}

// Validate checks a raw bearer token and returns its metadata.
func (m *Manager) Validate(raw string) (*Token, error) {
	if raw == "" {
		return nil, ErrNoToken
	}

	hash := hashToken(raw)

	m.mu.RLock()
	token, ok := m.tokens[hash]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrInvalidToken
	}
	if time.Now().After(token.ExpiresAt) {
		m.mu.Lock()
		delete(m.tokens, hash)
		m.mu.Unlock()
		return nil, ErrInvalidToken
	}
	return token, nil
}

// Revoke invalidates a raw token immediately.
func (m *Manager) Revoke(raw string) {
	m.mu.Lock()
	delete(m.tokens, hashToken(raw))
	m.mu.Unlock()
}

// CheckAPIKey compares a presented tracking API key in constant time.
func CheckAPIKey(presented, configured string) bool {
	return subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) == 1
}

func (m *Manager) pruneExpiredLocked(now time.Time) {
	for hash, t := range m.tokens {
		if now.After(t.ExpiresAt) {
			delete(m.tokens, hash)
		}
	}
}

func hashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
