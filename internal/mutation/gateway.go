package mutation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leveranciersportal/portalsync/internal/access"
	"github.com/leveranciersportal/portalsync/internal/erp"
	"github.com/leveranciersportal/portalsync/internal/jobcache"
	"github.com/leveranciersportal/portalsync/internal/metrics"
	"github.com/leveranciersportal/portalsync/internal/models"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrJobNotFound is returned when the job is not in the cache.
	ErrJobNotFound = jobcache.ErrJobNotFound
	// ErrNotAuthorized is returned when the email is not a contact of the job's vendor.
	ErrNotAuthorized = errors.New("mutation: email not authorized for job")
	// ErrEmptyStatus is returned when a status update carries no status.
	ErrEmptyStatus = errors.New("mutation: empty status")
)

// Upstream performs the ERP-side mutations.
type Upstream interface {
	PatchJobStatus(ctx context.Context, system models.ErpSystem, jobID string, patch erp.StatusPatch) (erp.Response, error)
	AttachImage(ctx context.Context, system models.ErpSystem, jobID string, image erp.Image) (erp.Response, error)
}

// StatusUpdate is a supplier-submitted status change. Status is the already resolved target.
type StatusUpdate struct {
	Status   string
	Feedback string
}

// ImageResult is the outcome of one image in a submission.
type ImageResult struct {
	Index    int    `json:"index"`
	Attached bool   `json:"attached"`
	Error    string `json:"error,omitempty"`
}

// SubmitResult reports a status update followed by its images. A partial image
// failure is reported here, not rolled back.
type SubmitResult struct {
	Status         string        `json:"status"`
	Images         []ImageResult `json:"images"`
	ImagesAttached int           `json:"images_attached"`
	ImagesFailed   int           `json:"images_failed"`
}

// Gateway applies supplier mutations upstream first and mirrors them into the cache.
type Gateway struct {
	store    *jobcache.Store
	upstream Upstream
	now      func() time.Time
}

// NewGateway constructs a Gateway.
func NewGateway(store *jobcache.Store, upstream Upstream) *Gateway {
	return &Gateway{store: store, upstream: upstream, now: time.Now}
}

// UpdateStatus patches the job status upstream and, on success, in the cache.
func (g *Gateway) UpdateStatus(ctx context.Context, key models.JobKey, email string, update StatusUpdate) (erp.Response, error) {
	resp, err := g.updateStatus(ctx, key, email, update)
	metrics.ObserveMutation("status", resultLabel(err))
	return resp, err
}

func (g *Gateway) updateStatus(ctx context.Context, key models.JobKey, email string, update StatusUpdate) (erp.Response, error) {
	status := strings.TrimSpace(update.Status)
	if status == "" {
		return erp.Response{}, ErrEmptyStatus
	}
	job, tenant, err := g.authorize(ctx, key, email)
	if err != nil {
		return erp.Response{}, err
	}

	patch := erp.NewStatusPatch(status, update.Feedback, g.clock())
	resp, errPatch := g.upstream.PatchJobStatus(ctx, tenant, job.ID, patch)
	if errPatch != nil {
		return erp.Response{}, errPatch
	}

	if errStore := g.store.SetStatus(ctx, key, status); errStore != nil {
		// The ERP accepted the change; the next sync refreshes the cached row.
		log.WithError(errStore).WithFields(log.Fields{
			"erp_system_id": key.ErpSystemID,
			"job_id":        key.JobID,
		}).Warn("mutation: cache status update failed")
	}
	return resp, nil
}

// AttachImage uploads one image upstream and touches the cached job on success.
func (g *Gateway) AttachImage(ctx context.Context, key models.JobKey, email string, image erp.Image) (erp.Response, error) {
	resp, err := g.attachImage(ctx, key, email, image)
	metrics.ObserveMutation("image", resultLabel(err))
	return resp, err
}

func (g *Gateway) attachImage(ctx context.Context, key models.JobKey, email string, image erp.Image) (erp.Response, error) {
	job, tenant, err := g.authorize(ctx, key, email)
	if err != nil {
		return erp.Response{}, err
	}
	resp, errAttach := g.upstream.AttachImage(ctx, tenant, job.ID, image)
	if errAttach != nil {
		return erp.Response{}, errAttach
	}
	if errTouch := g.store.TouchUpdatedAt(ctx, key); errTouch != nil {
		log.WithError(errTouch).WithFields(log.Fields{
			"erp_system_id": key.ErpSystemID,
			"job_id":        key.JobID,
		}).Warn("mutation: cache touch failed")
	}
	return resp, nil
}

// Submit updates the status and then attaches each image in order.
// A failed status update stops the submission before any image is sent.
func (g *Gateway) Submit(ctx context.Context, key models.JobKey, email string, update StatusUpdate, images []erp.Image) (SubmitResult, error) {
	if _, err := g.UpdateStatus(ctx, key, email, update); err != nil {
		return SubmitResult{}, err
	}
	result := SubmitResult{Status: strings.TrimSpace(update.Status), Images: make([]ImageResult, 0, len(images))}
	for i, image := range images {
		item := ImageResult{Index: i}
		if _, errImage := g.AttachImage(ctx, key, email, image); errImage != nil {
			item.Error = errImage.Error()
			result.ImagesFailed++
		} else {
			item.Attached = true
			result.ImagesAttached++
		}
		result.Images = append(result.Images, item)
	}
	return result, nil
}

func (g *Gateway) authorize(ctx context.Context, key models.JobKey, email string) (*models.CachedJob, models.ErpSystem, error) {
	if g == nil || g.store == nil || g.upstream == nil {
		return nil, models.ErpSystem{}, fmt.Errorf("mutation: gateway not initialized")
	}
	job, err := g.store.GetJob(ctx, key)
	if err != nil {
		return nil, models.ErpSystem{}, err
	}
	if !access.IsAuthorized(job, email) {
		return nil, models.ErpSystem{}, ErrNotAuthorized
	}
	tenant, err := g.store.GetTenant(ctx, key.ErpSystemID)
	if err != nil {
		if errors.Is(err, jobcache.ErrTenantNotFound) {
			return nil, models.ErpSystem{}, erp.ErrTenantNotConfigured
		}
		return nil, models.ErpSystem{}, err
	}
	if !tenant.Configured() {
		return nil, models.ErpSystem{}, erp.ErrTenantNotConfigured
	}
	return job, *tenant, nil
}

func (g *Gateway) clock() time.Time {
	if g.now == nil {
		return time.Now()
	}
	return g.now()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotAuthorized):
		return "unauthorized"
	case errors.Is(err, ErrJobNotFound):
		return "not_found"
	case errors.Is(err, erp.ErrTenantNotConfigured):
		return "not_configured"
	default:
		if _, ok := erp.AsUpstreamError(err); ok {
			return "upstream_error"
		}
		return "error"
	}
}
