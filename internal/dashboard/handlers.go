package dashboard

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/exitguard/exitguard/internal/logging"
)

// Handler provides dashboard API endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates a dashboard handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up dashboard routes under the given group.
// The group should already carry the dashboard-token middleware.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/sessions", h.ActiveSessions)
	r.GET("/salvage-stats", h.SalvageStats)
}

// ActiveSessions handles GET /api/sessions
func (h *Handler) ActiveSessions(c *gin.Context) {
	now := time.Now().UnixMilli()

	list, err := h.service.ActiveSessions(c.Request.Context(), now)
	if err != nil {
		logging.L(c.Request.Context()).Error("active sessions failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load sessions",
		})
		return
	}

	c.JSON(http.StatusOK, list)
}

// SalvageStats handles GET /api/salvage-stats
func (h *Handler) SalvageStats(c *gin.Context) {
	stats, err := h.service.SalvageStats(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("salvage stats failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to compute salvage statistics",
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}
