package front

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/leveranciersportal/portalsync/internal/access"
	"github.com/leveranciersportal/portalsync/internal/http/api/front/handlers"
	"github.com/leveranciersportal/portalsync/internal/jobcache"
	"github.com/leveranciersportal/portalsync/internal/ratelimit"
	"github.com/leveranciersportal/portalsync/internal/security"
	"github.com/leveranciersportal/portalsync/internal/statusmapping"
)

// Dependencies groups the collaborators used by the supplier and cron routes.
type Dependencies struct {
	Store       *jobcache.Store
	Deriver     *access.Deriver
	Resolver    *statusmapping.Resolver
	Mutator     handlers.Mutator
	Limiter     *ratelimit.Manager
	Verifier    *security.Verifier
	Runner      handlers.CycleRunner
	CronSecret  string
	CronTimeout time.Duration
}

// RegisterFrontRoutes registers supplier-facing and cron routes.
func RegisterFrontRoutes(r *gin.Engine, deps Dependencies) {
	if r == nil || deps.Store == nil {
		return
	}

	supplier := r.Group("/v0/supplier")
	supplier.Use(security.RequireIdentity(deps.Verifier, ""))

	jobHandler := handlers.NewJobFrontHandler(deps.Store, deps.Deriver, deps.Resolver, deps.Mutator, deps.Limiter)
	supplier.GET("/jobs", jobHandler.List)
	supplier.GET("/jobs/:erp_system_id/:job_id", jobHandler.Get)
	supplier.POST("/jobs/:erp_system_id/:job_id/status", jobHandler.SubmitStatus)
	supplier.POST("/jobs/:erp_system_id/:job_id/images", jobHandler.AttachImage)

	if deps.Runner != nil {
		cronHandler := handlers.NewCronHandler(deps.Runner, deps.CronSecret, deps.CronTimeout)
		r.POST("/v0/cron/sync", cronHandler.Sync)
	}
}
