package admin

import (
	"github.com/gin-gonic/gin"
	"github.com/leveranciersportal/portalsync/internal/access"
	handlers "github.com/leveranciersportal/portalsync/internal/http/api/admin/handlers"
	"github.com/leveranciersportal/portalsync/internal/jobcache"
	"github.com/leveranciersportal/portalsync/internal/security"
	"github.com/leveranciersportal/portalsync/internal/syncer"
	"gorm.io/gorm"
)

// Dependencies groups the collaborators used by the admin routes.
type Dependencies struct {
	DB        *gorm.DB
	Store     *jobcache.Store
	Statuses  handlers.StatusLister
	Scheduler *syncer.Scheduler
	Runner    handlers.SyncRunner
	Deriver   *access.Deriver
	Verifier  *security.Verifier
}

// RegisterAdminRoutes registers admin routes, middleware, and handlers.
func RegisterAdminRoutes(r *gin.Engine, deps Dependencies) {
	if r == nil || deps.DB == nil || deps.Store == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(deps.DB)
	r.GET("/healthz", healthHandler.Healthz)

	authed := r.Group("/v0/admin")
	authed.Use(security.RequireIdentity(deps.Verifier, security.RoleAdmin))

	erpHandler := handlers.NewERPSystemHandler(deps.Store, deps.Statuses)
	authed.POST("/erp-systems", erpHandler.Create)
	authed.GET("/erp-systems", erpHandler.List)
	authed.GET("/erp-systems/:id", erpHandler.Get)
	authed.PUT("/erp-systems/:id", erpHandler.Update)
	authed.DELETE("/erp-systems/:id", erpHandler.Delete)
	authed.GET("/erp-systems/:id/statuses", erpHandler.Statuses)

	mappingHandler := handlers.NewStatusMappingHandler(deps.Store)
	authed.POST("/status-mappings", mappingHandler.Create)
	authed.GET("/status-mappings", mappingHandler.List)
	authed.PUT("/status-mappings/:id", mappingHandler.Update)
	authed.DELETE("/status-mappings/:id", mappingHandler.Delete)

	syncHandler := handlers.NewSyncControlHandler(deps.Scheduler, deps.Runner)
	authed.GET("/sync-control", syncHandler.Get)
	authed.PUT("/sync-control", syncHandler.UpdateInterval)
	authed.POST("/sync-control/trigger", syncHandler.Trigger)
	authed.POST("/sync-control/run", syncHandler.Run)

	if deps.Deriver != nil {
		accessHandler := handlers.NewSupplierAccessHandler(deps.Deriver)
		authed.GET("/supplier-access", accessHandler.Overview)
	}
}
