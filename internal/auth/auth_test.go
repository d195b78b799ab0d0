package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginAndValidate(t *testing.T) {
	m := NewManager("admin", "secret123")

	raw, err := m.Login("admin", "secret123")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "dt_"))

	token, err := m.Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, "admin", token.User)
	assert.WithinDuration(t, time.Now().Add(TokenTTL), token.ExpiresAt, time.Minute)
}

func TestLoginBadCredentials(t *testing.T) {
	m := NewManager("admin", "secret123")

	_, err := m.Login("admin", "wrong")
	assert.ErrorIs(t, err, ErrBadCredentials)

	_, err = m.Login("intruder", "secret123")
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestValidateUnknownToken(t *testing.T) {
	m := NewManager("admin", "secret123")

	_, err := m.Validate("dt_deadbeef")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.Validate("")
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestValidateExpiredToken(t *testing.T) {
	m := NewManager("admin", "secret123")

	raw, err := m.Login("admin", "secret123")
	require.NoError(t, err)

	// Force expiry
	m.mu.Lock()
	for _, tok := range m.tokens {
		tok.ExpiresAt = time.Now().Add(-time.Minute)
	}
	m.mu.Unlock()

	_, err = m.Validate(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Expired token was deleted on read
	m.mu.RLock()
	assert.Empty(t, m.tokens)
	m.mu.RUnlock()
}

func TestRevoke(t *testing.T) {
	m := NewManager("admin", "secret123")

	raw, err := m.Login("admin", "secret123")
	require.NoError(t, err)

	m.Revoke(raw)

	_, err = m.Validate(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestCheckAPIKey(t *testing.T) {
	assert.True(t, CheckAPIKey("eg_key_1", "eg_key_1"))
	assert.False(t, CheckAPIKey("eg_key_1", "eg_key_2"))
	assert.False(t, CheckAPIKey("", "eg_key_1"))
}

func newAuthRouter(m *Manager, apiKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/track", RequireAPIKey(apiKey), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/api/sessions", RequireDashboardToken(m), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": DashboardUser(c)})
	})
	return r
}

func TestRequireAPIKey(t *testing.T) {
	r := newAuthRouter(NewManager("admin", "pw"), "eg_key_1")

	// Missing key
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/track", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Wrong key
	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/api/track", nil)
	req.Header.Set("X-API-Key", "nope")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Correct key via header
	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/api/track", nil)
	req.Header.Set("X-API-Key", "eg_key_1")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Correct key via bearer
	w = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/api/track", nil)
	req.Header.Set("Authorization", "Bearer eg_key_1")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireDashboardToken(t *testing.T) {
	m := NewManager("admin", "pw")
	r := newAuthRouter(m, "eg_key_1")

	// No token
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/sessions", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Bad token
	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/api/sessions", nil)
	req.Header.Set("Authorization", "Bearer dt_bogus")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Valid token
	raw, err := m.Login("admin", "pw")
	require.NoError(t, err)

	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/api/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user":"admin"`)
}
