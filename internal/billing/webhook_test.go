package billing

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/exitguard/exitguard/internal/session"
	"github.com/exitguard/exitguard/internal/tracker"
)

const testSecret = "whsec_test_secret"

func newTestRouter(t *testing.T) (*gin.Engine, *session.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := session.NewMemoryStore()
	t.Cleanup(store.Stop)

	svc := tracker.NewService(store, nil, 5*time.Minute, time.Hour)
	h := NewHandler(svc, testSecret)

	r := gin.New()
	api := r.Group("/api")
	h.RegisterRoutes(api)
	return r, store
}

func checkoutCompletedPayload(sessionID string, amountTotal int64) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_test_1",
		"api_version": %q,
		"type": "checkout.session.completed",
		"data": {
			"object": {
				"id": "cs_test_1",
				"client_reference_id": %q,
				"amount_total": %d
			}
		}
	}`, stripe.APIVersion, sessionID, amountTotal))
}

func signedRequest(t *testing.T, payload []byte, secret string) *http.Request {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/webhooks/stripe", bytes.NewReader(payload))
	ts := time.Now()
	sig := webhook.ComputeSignature(ts, payload, secret)
	req.Header.Set("Stripe-Signature",
		fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(sig)))
	return req
}

func seedSession(t *testing.T, store *session.MemoryStore, id string, riskScore int, intervened bool) {
	t.Helper()
	s := session.New(id, 1000)
	s.RiskScore = riskScore
	s.InterventionTriggered = intervened
	require.NoError(t, store.Put(context.Background(), s, time.Hour))
}

func TestWebhookSalvagedConversion(t *testing.T) {
	r, store := newTestRouter(t)
	seedSession(t, store, "sess-1", 80, true)

	payload := checkoutCompletedPayload("sess-1", 12050)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest(t, payload, testSecret))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"salvaged":true`)

	sess, err := store.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusSalvaged, sess.ConversionStatus)
	assert.Equal(t, 120.50, sess.OrderValue) // cents -> currency units
}

func TestWebhookOrdinaryConversion(t *testing.T) {
	r, store := newTestRouter(t)
	seedSession(t, store, "sess-1", 10, false)

	payload := checkoutCompletedPayload("sess-1", 5000)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest(t, payload, testSecret))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"conversion_status":"converted"`)
}

func TestWebhookBadSignature(t *testing.T) {
	r, store := newTestRouter(t)
	seedSession(t, store, "sess-1", 80, true)

	payload := checkoutCompletedPayload("sess-1", 12050)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest(t, payload, "whsec_wrong"))

	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Conversion must not be recorded
	sess, err := store.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, session.StatusPending, sess.ConversionStatus)
}

func TestWebhookIgnoresOtherEventTypes(t *testing.T) {
	r, _ := newTestRouter(t)

	payload := []byte(fmt.Sprintf(`{
		"id": "evt_test_2",
		"api_version": %q,
		"type": "invoice.paid",
		"data": {"object": {}}
	}`, stripe.APIVersion))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest(t, payload, testSecret))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"received":true`)
}

func TestWebhookUntrackedCheckout(t *testing.T) {
	r, _ := newTestRouter(t)

	// No client_reference_id: acknowledged but not attributed
	payload := checkoutCompletedPayload("", 5000)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest(t, payload, testSecret))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"received":true`)
	assert.NotContains(t, w.Body.String(), "conversion_status")
}

func TestWebhookExpiredSession(t *testing.T) {
	r, _ := newTestRouter(t)

	// Session never tracked: acknowledge so Stripe stops retrying
	payload := checkoutCompletedPayload("long-gone", 5000)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, signedRequest(t, payload, testSecret))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"received":true`)
}
