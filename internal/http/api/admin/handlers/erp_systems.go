package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/leveranciersportal/portalsync/internal/erp"
	"github.com/leveranciersportal/portalsync/internal/jobcache"
	"github.com/leveranciersportal/portalsync/internal/models"
)

// StatusLister lists the progress statuses known to an ERP system.
type StatusLister interface {
	ListStatuses(ctx context.Context, system models.ErpSystem) ([]erp.StatusDescriptor, error)
}

// ERPSystemHandler manages admin CRUD endpoints for ERP systems.
type ERPSystemHandler struct {
	store    *jobcache.Store // Tenant registry.
	statuses StatusLister    // Upstream status listing.
}

// NewERPSystemHandler constructs an ERP system handler.
func NewERPSystemHandler(store *jobcache.Store, statuses StatusLister) *ERPSystemHandler {
	return &ERPSystemHandler{store: store, statuses: statuses}
}

// createERPSystemRequest captures the payload for registering an ERP system.
type createERPSystemRequest struct {
	Name   string `json:"name"`    // Display name.
	Domain string `json:"domain"`  // Base domain or URL.
	APIKey string `json:"api_key"` // API credential.
}

// Create validates input and registers a new ERP system.
func (h *ERPSystemHandler) Create(c *gin.Context) {
	var body createERPSystemRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if strings.TrimSpace(body.Domain) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "domain is required"})
		return
	}

	system := models.ErpSystem{Name: body.Name, Domain: body.Domain, APIKey: strings.TrimSpace(body.APIKey)}
	if errCreate := h.store.CreateTenant(c.Request.Context(), &system); errCreate != nil {
		if errors.Is(errCreate, jobcache.ErrDuplicateDomain) {
			c.JSON(http.StatusConflict, gin.H{"error": "domain already registered"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create erp system failed"})
		return
	}
	c.JSON(http.StatusCreated, formatERPSystem(&system))
}

// List returns all ERP systems.
func (h *ERPSystemHandler) List(c *gin.Context) {
	systems, errList := h.store.ListTenants(c.Request.Context())
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list erp systems failed"})
		return
	}
	out := make([]gin.H, 0, len(systems))
	for i := range systems {
		out = append(out, formatERPSystem(&systems[i]))
	}
	c.JSON(http.StatusOK, gin.H{"erp_systems": out})
}

// Get fetches an ERP system by ID.
func (h *ERPSystemHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	system, errGet := h.store.GetTenant(c.Request.Context(), id)
	if errGet != nil {
		writeTenantError(c, errGet)
		return
	}
	c.JSON(http.StatusOK, formatERPSystem(system))
}

// updateERPSystemRequest captures optional fields for ERP system updates.
type updateERPSystemRequest struct {
	Name   *string `json:"name"`    // Optional display name.
	Domain *string `json:"domain"`  // Optional domain.
	APIKey *string `json:"api_key"` // Optional credential; empty clears it.
}

// Update applies ERP system field updates.
func (h *ERPSystemHandler) Update(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var body updateERPSystemRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.Name != nil && strings.TrimSpace(*body.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name cannot be empty"})
		return
	}
	if body.Domain != nil && strings.TrimSpace(*body.Domain) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "domain cannot be empty"})
		return
	}

	system, errUpdate := h.store.UpdateTenant(c.Request.Context(), id, jobcache.TenantUpdate{
		Name:   body.Name,
		Domain: body.Domain,
		APIKey: body.APIKey,
	})
	if errUpdate != nil {
		if errors.Is(errUpdate, jobcache.ErrDuplicateDomain) {
			c.JSON(http.StatusConflict, gin.H{"error": "domain already registered"})
			return
		}
		writeTenantError(c, errUpdate)
		return
	}
	c.JSON(http.StatusOK, formatERPSystem(system))
}

// Delete removes an ERP system together with its cached jobs and mappings.
func (h *ERPSystemHandler) Delete(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if errDelete := h.store.DeleteTenant(c.Request.Context(), id); errDelete != nil {
		writeTenantError(c, errDelete)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Statuses lists the ERP's progress statuses, used when building mappings.
func (h *ERPSystemHandler) Statuses(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	system, errGet := h.store.GetTenant(c.Request.Context(), id)
	if errGet != nil {
		writeTenantError(c, errGet)
		return
	}
	statuses, errList := h.statuses.ListStatuses(c.Request.Context(), *system)
	if errList != nil {
		if errors.Is(errList, erp.ErrTenantNotConfigured) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "erp system is missing domain or api key"})
			return
		}
		writeUpstreamError(c, errList)
		return
	}
	c.JSON(http.StatusOK, gin.H{"statuses": statuses})
}

func writeTenantError(c *gin.Context, err error) {
	if errors.Is(err, jobcache.ErrTenantNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
}

// formatERPSystem renders an ERP system without its credential.
func formatERPSystem(system *models.ErpSystem) gin.H {
	if system == nil {
		return gin.H{}
	}
	return gin.H{
		"id":          system.ID,
		"name":        system.Name,
		"domain":      system.Domain,
		"has_api_key": strings.TrimSpace(system.APIKey) != "",
		"created_at":  system.CreatedAt,
		"updated_at":  system.UpdatedAt,
	}
}
