package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/leveranciersportal/portalsync/internal/config"
	"github.com/leveranciersportal/portalsync/internal/syncer"
	log "github.com/sirupsen/logrus"
)

// CycleRunner runs one gated sync cycle.
type CycleRunner interface {
	RunOnce(ctx context.Context) (syncer.Result, error)
}

// CronHandler lets an external scheduler drive the sync.
type CronHandler struct {
	runner  CycleRunner
	secret  string
	timeout time.Duration
}

// NewCronHandler constructs a CronHandler. An empty secret disables the endpoint.
// The cycle outlives the request and is bounded by timeout instead.
func NewCronHandler(runner CycleRunner, secret string, timeout time.Duration) *CronHandler {
	if timeout <= 0 {
		timeout = config.DefaultCycleTimeout
	}
	return &CronHandler{runner: runner, secret: strings.TrimSpace(secret), timeout: timeout}
}

// Sync runs a cycle if the schedule says one is due.
func (h *CronHandler) Sync(c *gin.Context) {
	if h.secret == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cron secret not configured"})
		return
	}
	if !h.authorized(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), h.timeout)
	defer cancel()
	result, errRun := h.runner.RunOnce(ctx)
	if errRun != nil {
		if errors.Is(errRun, syncer.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "sync already running"})
			return
		}
		log.WithError(errRun).Error("cron: sync cycle failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync failed", "result": result})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *CronHandler) authorized(c *gin.Context) bool {
	candidate := strings.TrimSpace(c.Query("secret"))
	if header := c.GetHeader("Authorization"); header != "" {
		candidate = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if candidate == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(h.secret)) == 1
}
