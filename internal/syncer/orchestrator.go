package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leveranciersportal/portalsync/internal/config"
	"github.com/leveranciersportal/portalsync/internal/erp"
	"github.com/leveranciersportal/portalsync/internal/jobcache"
	"github.com/leveranciersportal/portalsync/internal/metrics"
	"github.com/leveranciersportal/portalsync/internal/models"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrCycleAborted is returned when the context ends before all tenants were processed.
// Tenants finished before the abort stay cached; the last run is not stamped.
var ErrCycleAborted = errors.New("sync: cycle aborted")

// JobSource lists raw job records for one ERP system.
type JobSource interface {
	ListJobs(ctx context.Context, system models.ErpSystem, opts erp.ListJobsOptions) ([]json.RawMessage, error)
}

// Result summarizes one sync cycle.
type Result struct {
	RunID            string    `json:"run_id,omitempty"`
	Due              bool      `json:"due"`
	TenantsProcessed int       `json:"tenants_processed"`
	TenantsSkipped   int       `json:"tenants_skipped"`
	JobsFetched      int       `json:"jobs_fetched"`
	JobsUpserted     int       `json:"jobs_upserted"`
	MalformedRecords int       `json:"malformed_records"`
	Errors           int       `json:"errors"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
}

// Orchestrator runs gated sync cycles across all registered ERP systems.
// Callers must ensure only one cycle runs at a time.
type Orchestrator struct {
	store       *jobcache.Store
	scheduler   *Scheduler
	source      JobSource
	expand      string
	changeField string
	concurrency int
	now         func() time.Time
}

// NewOrchestrator constructs an orchestrator.
func NewOrchestrator(store *jobcache.Store, scheduler *Scheduler, source JobSource, erpCfg config.ERPConfig, syncCfg config.SyncConfig) *Orchestrator {
	expand := erpCfg.JobExpand
	if expand == "" {
		expand = config.DefaultJobExpand
	}
	changeField := erpCfg.ChangeDateField
	if changeField == "" {
		changeField = config.DefaultChangeDateField
	}
	concurrency := syncCfg.TenantConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Orchestrator{
		store:       store,
		scheduler:   scheduler,
		source:      source,
		expand:      expand,
		changeField: changeField,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// RunCycle executes one cycle if the scheduler says it is due.
// Only failures before the tenant loop are returned as errors; tenant and record
// failures are logged and counted in the result.
func (o *Orchestrator) RunCycle(ctx context.Context) (Result, error) {
	if o == nil || o.store == nil || o.scheduler == nil || o.source == nil {
		return Result{}, fmt.Errorf("sync: orchestrator not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	clock := o.now
	if clock == nil {
		clock = time.Now
	}

	control, errLoad := o.scheduler.Load(ctx)
	if errLoad != nil {
		metrics.ObserveSyncCycle("fatal", 0)
		return Result{}, fmt.Errorf("sync: load control: %w", errLoad)
	}
	startedAt := clock().UTC()
	if !ShouldRun(control, startedAt) {
		metrics.ObserveSyncCycle("not_due", 0)
		return Result{Due: false, StartedAt: startedAt, FinishedAt: startedAt}, nil
	}

	result := Result{RunID: uuid.NewString(), Due: true, StartedAt: startedAt}
	logger := log.WithField("run_id", result.RunID)

	if errStarted := o.scheduler.MarkRunStarted(ctx, startedAt); errStarted != nil {
		o.abort(ctx, logger)
		metrics.ObserveSyncCycle("fatal", 0)
		return result, fmt.Errorf("sync: mark started: %w", errStarted)
	}

	tenants, errTenants := o.store.ListTenants(ctx)
	if errTenants != nil {
		o.abort(ctx, logger)
		metrics.ObserveSyncCycle("fatal", 0)
		return result, fmt.Errorf("sync: list erp systems: %w", errTenants)
	}

	var filter string
	if control.LastSync != nil && !control.ForceSync {
		filter = changedSinceFilter(o.changeField, *control.LastSync)
	}
	logger.WithFields(log.Fields{
		"tenants": len(tenants),
		"forced":  control.ForceSync,
		"filter":  filter,
	}).Info("sync cycle started")

	var mu sync.Mutex
	group := new(errgroup.Group)
	group.SetLimit(o.concurrency)
	for _, tenant := range tenants {
		group.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			outcome := o.syncTenant(ctx, logger, tenant, filter, startedAt)
			mu.Lock()
			result.merge(outcome)
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	result.FinishedAt = clock().UTC()
	duration := result.FinishedAt.Sub(startedAt)

	if errCtx := ctx.Err(); errCtx != nil {
		logger.WithError(errCtx).Warn("sync cycle aborted")
		metrics.ObserveSyncCycle("aborted", duration)
		return result, fmt.Errorf("%w: %w", ErrCycleAborted, errCtx)
	}

	if errCompleted := o.scheduler.MarkRunCompleted(ctx, startedAt); errCompleted != nil {
		metrics.ObserveSyncCycle("fatal", duration)
		return result, fmt.Errorf("sync: mark completed: %w", errCompleted)
	}
	metrics.ObserveSyncCycle("completed", duration)
	metrics.SetLastSync(startedAt)

	logger.WithFields(log.Fields{
		"tenants_processed": result.TenantsProcessed,
		"tenants_skipped":   result.TenantsSkipped,
		"jobs_fetched":      result.JobsFetched,
		"jobs_upserted":     result.JobsUpserted,
		"errors":            result.Errors,
		"duration":          duration.String(),
	}).Info("sync cycle completed")
	return result, nil
}

func (o *Orchestrator) abort(ctx context.Context, logger *log.Entry) {
	if errAbort := o.scheduler.MarkRunAborted(ctx); errAbort != nil {
		logger.WithError(errAbort).Warn("sync: clear force flag failed")
	}
}

// tenantOutcome is the contribution of one tenant to the cycle result.
type tenantOutcome struct {
	processed bool
	skipped   bool
	fetched   int
	upserted  int
	malformed int
	errors    int
}

func (r *Result) merge(o tenantOutcome) {
	if o.processed {
		r.TenantsProcessed++
	}
	if o.skipped {
		r.TenantsSkipped++
	}
	r.JobsFetched += o.fetched
	r.JobsUpserted += o.upserted
	r.MalformedRecords += o.malformed
	r.Errors += o.errors
}

func (o *Orchestrator) syncTenant(ctx context.Context, parent *log.Entry, tenant models.ErpSystem, filter string, startedAt time.Time) tenantOutcome {
	logger := parent.WithFields(log.Fields{
		"erp_system_id": tenant.ID,
		"domain":        tenant.Domain,
	})
	var out tenantOutcome

	if !tenant.Configured() {
		logger.Warn("sync: skipping erp system without domain or api key")
		metrics.ObserveTenantError("not_configured")
		out.skipped = true
		out.errors++
		return out
	}

	raws, errList := o.source.ListJobs(ctx, tenant, erp.ListJobsOptions{Filter: filter, Expand: o.expand})
	if errList != nil {
		kind := "transport"
		if upstream, ok := erp.AsUpstreamError(errList); ok {
			kind = "upstream"
			logger = logger.WithField("status", upstream.StatusCode)
		}
		logger.WithError(errList).Warn("sync: list jobs failed")
		metrics.ObserveTenantError(kind)
		out.errors++
		return out
	}
	out.processed = true
	out.fetched = len(raws)

	for i, raw := range raws {
		job, errMap := mapJob(raw, tenant.ID, i, o.changeField, startedAt)
		if errMap != nil {
			logger.WithError(errMap).Warn("sync: skipping malformed record")
			metrics.ObserveTenantError("malformed")
			out.malformed++
			out.errors++
			continue
		}
		job.UpdatedAt = startedAt
		if errUpsert := o.store.UpsertJob(ctx, job); errUpsert != nil {
			logger.WithError(errUpsert).WithField("job_id", job.ID).Warn("sync: upsert failed")
			metrics.ObserveTenantError("store")
			out.errors++
			if ctx.Err() != nil {
				break
			}
			continue
		}
		out.upserted++
	}
	metrics.AddJobsUpserted(out.upserted)
	logger.WithFields(log.Fields{
		"fetched":  out.fetched,
		"upserted": out.upserted,
	}).Debug("sync: erp system done")
	return out
}
