package tracker

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exitguard/exitguard/internal/session"
)

func newTestRouter(t *testing.T) (*gin.Engine, *session.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := session.NewMemoryStore()
	t.Cleanup(store.Stop)

	svc := NewService(store, nil, 5*time.Minute, time.Hour)
	h := NewHandler(svc)

	r := gin.New()
	api := r.Group("/api")
	h.RegisterRoutes(api)
	return r, store
}

func postJSON(t *testing.T, r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestTrackEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	w := postJSON(t, r, "/api/track", map[string]any{
		"session_id": "sess-1",
		"timestamp":  1000,
		"events":     []map[string]any{{"type": "click"}},
		"behaviors":  map[string]float64{"rageClicks": 2, "deadClicks": 2},
		"mood":       "frustrated",
	})

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "sess-1", body["session_id"])
	assert.Equal(t, float64(60), body["risk_score"])
	assert.Equal(t, "frustrated", body["mood"])
	assert.Contains(t, body["suggested_action"], "IMMEDIATE INTERVENTION")
}

func TestTrackEndpointValidationError(t *testing.T) {
	r, _ := newTestRouter(t)

	w := postJSON(t, r, "/api/track", map[string]any{
		"session_id": "bad id!",
		"timestamp":  1000,
	})

	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "validation_error", body["error"])
}

func TestTrackEndpointMalformedBody(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/track", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInterventionEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	postJSON(t, r, "/api/track", map[string]any{"session_id": "s1", "timestamp": 1000})

	w := postJSON(t, r, "/api/intervention", map[string]any{
		"session_id": "s1",
		"timestamp":  2000,
	})

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Intervention marked successfully", body["message"])
}

func TestInterventionEndpointUnknownSession(t *testing.T) {
	r, _ := newTestRouter(t)

	w := postJSON(t, r, "/api/intervention", map[string]any{
		"session_id": "missing",
		"timestamp":  2000,
	})

	require.Equal(t, http.StatusNotFound, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "not_found", body["error"])
}

func TestConvertEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	postJSON(t, r, "/api/track", map[string]any{
		"session_id": "s1",
		"timestamp":  1000,
		"behaviors":  map[string]float64{"rageClicks": 2, "deadClicks": 2},
	})
	postJSON(t, r, "/api/intervention", map[string]any{"session_id": "s1", "timestamp": 1500})

	w := postJSON(t, r, "/api/convert", map[string]any{
		"session_id":  "s1",
		"order_value": 120.50,
		"timestamp":   2000,
	})

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["salvaged"])
	assert.Equal(t, 120.50, body["revenue_saved"])
	assert.Equal(t, "salvaged", body["conversion_status"])
}

func TestConvertEndpointNegativeOrderValue(t *testing.T) {
	r, _ := newTestRouter(t)

	postJSON(t, r, "/api/track", map[string]any{"session_id": "s1", "timestamp": 1000})

	w := postJSON(t, r, "/api/convert", map[string]any{
		"session_id":  "s1",
		"order_value": -5,
		"timestamp":   2000,
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetSessionEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)

	postJSON(t, r, "/api/track", map[string]any{
		"session_id": "s1",
		"timestamp":  1000,
		"behaviors":  map[string]float64{"hesitations": 4},
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/session/s1", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "s1", body["session_id"])
	behaviors := body["behaviors"].(map[string]any)
	assert.Equal(t, float64(4), behaviors["hesitations"])
	// Full record includes the raw event log field
	_, hasEvents := body["events"]
	assert.True(t, hasEvents)
}

func TestGetSessionEndpointNotFound(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/session/missing", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetSessionEndpointInvalidID(t *testing.T) {
	r, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/session/bad%20id", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
