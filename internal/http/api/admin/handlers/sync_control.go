package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/leveranciersportal/portalsync/internal/syncer"
)

// SyncRunner runs gated sync cycles.
type SyncRunner interface {
	RunOnce(ctx context.Context) (syncer.Result, error)
}

// SyncControlHandler exposes the sync schedule to admins.
type SyncControlHandler struct {
	scheduler *syncer.Scheduler // Control row owner.
	runner    SyncRunner        // Cycle runner for immediate runs.
}

// NewSyncControlHandler constructs a sync control handler.
func NewSyncControlHandler(scheduler *syncer.Scheduler, runner SyncRunner) *SyncControlHandler {
	return &SyncControlHandler{scheduler: scheduler, runner: runner}
}

// Get returns the sync control row.
func (h *SyncControlHandler) Get(c *gin.Context) {
	control, errLoad := h.scheduler.Load(c.Request.Context())
	if errLoad != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load sync control failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"force_sync":       control.ForceSync,
		"interval_seconds": control.IntervalSeconds,
		"last_sync":        control.LastSync,
		"last_started_at":  control.LastStartedAt,
		"updated_at":       control.UpdatedAt,
	})
}

// updateIntervalRequest captures the new interval.
type updateIntervalRequest struct {
	IntervalSeconds int `json:"interval_seconds"` // Must be positive.
}

// UpdateInterval changes the sync interval.
func (h *SyncControlHandler) UpdateInterval(c *gin.Context) {
	var body updateIntervalRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.IntervalSeconds <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "interval_seconds must be positive"})
		return
	}
	if errSet := h.scheduler.SetInterval(c.Request.Context(), body.IntervalSeconds); errSet != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update interval failed"})
		return
	}
	h.Get(c)
}

// Trigger sets the force flag. With run=true the cycle is executed immediately.
func (h *SyncControlHandler) Trigger(c *gin.Context) {
	if errTrigger := h.scheduler.Trigger(c.Request.Context()); errTrigger != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "trigger sync failed"})
		return
	}
	run := strings.TrimSpace(c.Query("run"))
	if run != "true" && run != "1" {
		c.JSON(http.StatusAccepted, gin.H{"force_sync": true})
		return
	}
	h.Run(c)
}

// Run executes a gated cycle now.
func (h *SyncControlHandler) Run(c *gin.Context) {
	if h.runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sync runner unavailable"})
		return
	}
	result, errRun := h.runner.RunOnce(c.Request.Context())
	if errRun != nil {
		if errors.Is(errRun, syncer.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "sync already running"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync failed", "result": result})
		return
	}
	c.JSON(http.StatusOK, result)
}
