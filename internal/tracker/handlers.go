package tracker

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/exitguard/exitguard/internal/logging"
	"github.com/exitguard/exitguard/internal/session"
	"github.com/exitguard/exitguard/internal/validation"
)

// Handler provides HTTP endpoints for telemetry ingest.
type Handler struct {
	service *Service
}

// NewHandler creates a tracker handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up ingest routes. The group should already carry the
// API-key middleware.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/track", h.Track)
	r.POST("/intervention", h.MarkIntervention)
	r.POST("/convert", h.RecordConversion)
	r.GET("/session/:session_id", validation.SessionIDParamMiddleware(), h.GetSession)
}

// Track handles POST /api/track
func (h *Handler) Track(c *gin.Context) {
	var req TrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	result, err := h.service.Track(c.Request.Context(), &req)
	if err != nil {
		var verrs validation.ValidationErrors
		if errors.As(err, &verrs) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": verrs.Error(),
				"details": verrs,
			})
			return
		}
		logging.L(c.Request.Context()).Error("track failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to process tracking batch",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"session_id":       result.SessionID,
		"risk_score":       result.RiskScore,
		"root_cause":       result.RootCause,
		"suggested_action": result.SuggestedAction,
		"mood":             result.Mood,
	})
}

type interventionRequest struct {
	SessionID        string `json:"session_id"`
	InterventionType string `json:"intervention_type"`
	Timestamp        int64  `json:"timestamp"`
}

// MarkIntervention handles POST /api/intervention
func (h *Handler) MarkIntervention(c *gin.Context) {
	var req interventionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if !validation.IsValidSessionID(req.SessionID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_session_id",
			"message": "session_id must be 1-100 chars of [a-zA-Z0-9_-]",
		})
		return
	}

	err := h.service.MarkIntervention(c.Request.Context(), req.SessionID, req.InterventionType, req.Timestamp)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Session not found",
			})
			return
		}
		logging.L(c.Request.Context()).Error("mark intervention failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to mark intervention",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Intervention marked successfully",
	})
}

type conversionRequest struct {
	SessionID  string  `json:"session_id"`
	OrderValue float64 `json:"order_value"`
	Timestamp  int64   `json:"timestamp"`
}

// RecordConversion handles POST /api/convert
func (h *Handler) RecordConversion(c *gin.Context) {
	var req conversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if !validation.IsValidSessionID(req.SessionID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_session_id",
			"message": "session_id must be 1-100 chars of [a-zA-Z0-9_-]",
		})
		return
	}
	if req.OrderValue < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "order_value: must not be negative",
		})
		return
	}

	result, err := h.service.RecordConversion(c.Request.Context(), req.SessionID, req.OrderValue, req.Timestamp)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Session not found",
			})
			return
		}
		logging.L(c.Request.Context()).Error("record conversion failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to record conversion",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"salvaged":          result.Salvaged,
		"revenue_saved":     result.RevenueSaved,
		"conversion_status": result.ConversionStatus,
	})
}

// GetSession handles GET /api/session/:session_id
func (h *Handler) GetSession(c *gin.Context) {
	id := c.Param("session_id")

	sess, err := h.service.GetSession(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Session not found",
			})
			return
		}
		logging.L(c.Request.Context()).Error("get session failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load session",
		})
		return
	}

	c.JSON(http.StatusOK, sess)
}
