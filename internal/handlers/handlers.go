package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"switchboard/internal/cdr"
	"switchboard/internal/dialer"
	"switchboard/internal/sessions"
	"switchboard/pkg/logging"
)

// CallHistory is the slice of the CDR store the admin API reads.
type CallHistory interface {
	ListRecent(ctx context.Context, limit int) ([]cdr.Record, error)
}

// Handlers serves the admin API: queueing contacts and inspecting the
// dialer, live sessions, and call history.
type Handlers struct {
	dialer   *dialer.Dialer
	registry *sessions.Registry
	history  CallHistory
	logger   logging.Logger
}

// NewHandlers creates the admin API handlers. history may be nil when the
// call log is disabled.
func NewHandlers(d *dialer.Dialer, registry *sessions.Registry, history CallHistory, logger logging.Logger) *Handlers {
	return &Handlers{
		dialer:   d,
		registry: registry,
		history:  history,
		logger:   logger,
	}
}

// RegisterRoutes attaches the admin API under /api/v1.
func (h *Handlers) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/contacts", h.AddContacts)
		api.GET("/dialer/stats", h.GetDialerStats)
		api.GET("/sessions", h.GetSessions)
		api.GET("/calls/recent", h.GetRecentCalls)
	}
}

type addContactsRequest struct {
	Contacts []string `json:"contacts" binding:"required"`
}

// AddContacts queues contacts for dialing.
func (h *Handlers) AddContacts(c *gin.Context) {
	var req addContactsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "contacts array is required"})
		return
	}

	added := h.dialer.AddContacts(req.Contacts...)
	h.logger.WithField("added", added).Info("Contacts queued via API")
	c.JSON(http.StatusAccepted, gin.H{"queued": added})
}

// GetDialerStats returns queue depth and rate-limit usage.
func (h *Handlers) GetDialerStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.dialer.Stats())
}

// GetSessions returns all live sessions.
func (h *Handlers) GetSessions(c *gin.Context) {
	snapshot := h.registry.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"count":    len(snapshot),
		"sessions": snapshot,
	})
}

// GetRecentCalls returns the most recent call records.
func (h *Handlers) GetRecentCalls(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "call history is not enabled"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = parsed
	}

	records, err := h.history.ListRecent(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list call records")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list call records"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(records),
		"records": records,
	})
}
