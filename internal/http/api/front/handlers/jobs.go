package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/leveranciersportal/portalsync/internal/access"
	"github.com/leveranciersportal/portalsync/internal/erp"
	"github.com/leveranciersportal/portalsync/internal/jobcache"
	"github.com/leveranciersportal/portalsync/internal/models"
	"github.com/leveranciersportal/portalsync/internal/mutation"
	"github.com/leveranciersportal/portalsync/internal/ratelimit"
	"github.com/leveranciersportal/portalsync/internal/security"
	"github.com/leveranciersportal/portalsync/internal/statusmapping"
	log "github.com/sirupsen/logrus"
)

// Mutator applies supplier mutations to the ERP.
type Mutator interface {
	Submit(ctx context.Context, key models.JobKey, email string, update mutation.StatusUpdate, images []erp.Image) (mutation.SubmitResult, error)
	AttachImage(ctx context.Context, key models.JobKey, email string, image erp.Image) (erp.Response, error)
}

// JobFrontHandler serves the supplier job endpoints.
type JobFrontHandler struct {
	store    *jobcache.Store
	deriver  *access.Deriver
	resolver *statusmapping.Resolver
	mutator  Mutator
	limiter  *ratelimit.Manager
}

// NewJobFrontHandler constructs a JobFrontHandler. A nil limiter disables rate limiting.
func NewJobFrontHandler(store *jobcache.Store, deriver *access.Deriver, resolver *statusmapping.Resolver, mutator Mutator, limiter *ratelimit.Manager) *JobFrontHandler {
	return &JobFrontHandler{store: store, deriver: deriver, resolver: resolver, mutator: mutator, limiter: limiter}
}

// List returns the jobs visible to the caller.
func (h *JobFrontHandler) List(c *gin.Context) {
	email, ok := callerEmail(c)
	if !ok {
		return
	}
	jobs, errJobs := h.deriver.VisibleJobs(c.Request.Context(), email)
	if errJobs != nil {
		log.WithError(errJobs).Error("supplier: list visible jobs failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list jobs failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// Get returns a single job visible to the caller.
func (h *JobFrontHandler) Get(c *gin.Context) {
	email, ok := callerEmail(c)
	if !ok {
		return
	}
	key, ok := parseJobKey(c)
	if !ok {
		return
	}
	job, ok := h.authorizedJob(c, key, email)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	tenant, errTenant := h.store.GetTenant(ctx, key.ErpSystemID)
	if errTenant != nil && !errors.Is(errTenant, jobcache.ErrTenantNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query erp system failed"})
		return
	}
	var system models.ErpSystem
	if tenant != nil {
		system = *tenant
	}
	mappings, errMappings := h.store.ListMappings(ctx, key.ErpSystemID)
	if errMappings != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query status mappings failed"})
		return
	}
	snapshot := statusmapping.NewSnapshot(mappings)
	c.JSON(http.StatusOK, access.Annotate(*job, system, snapshot))
}

// imagePayload carries one base64 encoded image.
type imagePayload struct {
	Data      string `json:"data"`      // Base64 image bytes, optionally as a data URL.
	Extension string `json:"extension"` // File extension, e.g. "jpg".
}

// submitStatusRequest captures a supplier status submission.
type submitStatusRequest struct {
	Status   string         `json:"status"`   // Optional; must equal the mapped target when set.
	Feedback string         `json:"feedback"` // Optional feedback text.
	Images   []imagePayload `json:"images"`   // Optional images attached after the status update.
}

// SubmitStatus moves the job to its mapped target status and attaches any images.
func (h *JobFrontHandler) SubmitStatus(c *gin.Context) {
	email, ok := callerEmail(c)
	if !ok {
		return
	}
	key, ok := parseJobKey(c)
	if !ok {
		return
	}
	var body submitStatusRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	images, errImages := decodeImages(body.Images)
	if errImages != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errImages.Error()})
		return
	}
	if !h.allow(c, email, "status") {
		return
	}

	job, ok := h.authorizedJob(c, key, email)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	target, mapped, errResolve := h.resolver.Resolve(ctx, key.ErpSystemID, job.ProgressStatus)
	if errResolve != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "resolve status failed"})
		return
	}
	if !mapped {
		c.JSON(http.StatusConflict, gin.H{"error": "job status has no supplier action"})
		return
	}
	if requested := strings.TrimSpace(body.Status); requested != "" && requested != target {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status does not match the allowed transition"})
		return
	}

	result, errSubmit := h.mutator.Submit(ctx, key, email, mutation.StatusUpdate{Status: target, Feedback: body.Feedback}, images)
	if errSubmit != nil {
		writeMutationError(c, key, errSubmit)
		return
	}
	c.JSON(http.StatusOK, result)
}

// AttachImage sends a single image to the job.
func (h *JobFrontHandler) AttachImage(c *gin.Context) {
	email, ok := callerEmail(c)
	if !ok {
		return
	}
	key, ok := parseJobKey(c)
	if !ok {
		return
	}
	var body imagePayload
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	images, errImages := decodeImages([]imagePayload{body})
	if errImages != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errImages.Error()})
		return
	}
	if !h.allow(c, email, "image") {
		return
	}

	if _, errAttach := h.mutator.AttachImage(c.Request.Context(), key, email, images[0]); errAttach != nil {
		writeMutationError(c, key, errAttach)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *JobFrontHandler) allow(c *gin.Context, email, operation string) bool {
	result, errAllow := h.limiter.Allow(c.Request.Context(), ratelimit.KeyForSupplier(email, operation))
	if errAllow != nil {
		log.WithError(errAllow).Warn("supplier: rate limit check failed")
		return true
	}
	if !result.Allowed {
		if !result.Reset.IsZero() {
			c.Header("Retry-After", strconv.Itoa(max(1, int(time.Until(result.Reset).Seconds()+0.5))))
		}
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
		return false
	}
	return true
}

// authorizedJob loads the job and checks the caller is one of its vendor contacts.
func (h *JobFrontHandler) authorizedJob(c *gin.Context, key models.JobKey, email string) (*models.CachedJob, bool) {
	job, errGet := h.store.GetJob(c.Request.Context(), key)
	if errGet != nil {
		if errors.Is(errGet, jobcache.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query job failed"})
		return nil, false
	}
	if !access.IsAuthorized(job, email) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for this job"})
		return nil, false
	}
	return job, true
}

func callerEmail(c *gin.Context) (string, bool) {
	identity, ok := security.IdentityFrom(c)
	if !ok || identity.Email == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return identity.Email, true
}

func parseJobKey(c *gin.Context) (models.JobKey, bool) {
	tenantID, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("erp_system_id")), 10, 64)
	if errParse != nil || tenantID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid erp_system_id"})
		return models.JobKey{}, false
	}
	key := models.JobKey{ErpSystemID: tenantID, JobID: c.Param("job_id")}
	if !key.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job_id"})
		return models.JobKey{}, false
	}
	return key, true
}

var (
	errImageData      = errors.New("image data must be base64")
	errImageExtension = errors.New("image extension is required")
)

func decodeImages(payloads []imagePayload) ([]erp.Image, error) {
	images := make([]erp.Image, 0, len(payloads))
	for _, payload := range payloads {
		data := strings.TrimSpace(payload.Data)
		if idx := strings.Index(data, ";base64,"); strings.HasPrefix(data, "data:") && idx >= 0 {
			data = data[idx+len(";base64,"):]
		}
		decoded, errDecode := base64.StdEncoding.DecodeString(data)
		if errDecode != nil || len(decoded) == 0 {
			return nil, errImageData
		}
		image := erp.Image{Data: decoded, Extension: payload.Extension}
		if image.NormalizedExtension() == "" {
			return nil, errImageExtension
		}
		images = append(images, image)
	}
	return images, nil
}

func writeMutationError(c *gin.Context, key models.JobKey, err error) {
	switch {
	case errors.Is(err, mutation.ErrNotAuthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for this job"})
	case errors.Is(err, mutation.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, mutation.ErrEmptyStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": "status is required"})
	case errors.Is(err, erp.ErrTenantNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "erp system is not configured"})
	default:
		if upstream, ok := erp.AsUpstreamError(err); ok {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":           "erp rejected the update",
				"upstream_status": upstream.StatusCode,
			})
			return
		}
		log.WithError(err).WithFields(log.Fields{
			"erp_system_id": key.ErpSystemID,
			"job_id":        key.JobID,
		}).Error("supplier: mutation failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "erp unreachable"})
	}
}
