package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/leveranciersportal/portalsync/internal/jobcache"
	"github.com/leveranciersportal/portalsync/internal/models"
)

// StatusMappingHandler manages admin CRUD endpoints for status mappings.
type StatusMappingHandler struct {
	store *jobcache.Store // Mapping table.
}

// NewStatusMappingHandler constructs a status mapping handler.
func NewStatusMappingHandler(store *jobcache.Store) *StatusMappingHandler {
	return &StatusMappingHandler{store: store}
}

// createStatusMappingRequest captures the payload for creating a status mapping.
type createStatusMappingRequest struct {
	ErpSystemID  uint64 `json:"erp_system_id"` // Owning ERP system.
	SourceStatus string `json:"source_status"` // ERP-native status.
	TargetStatus string `json:"target_status"` // Portal-facing status.
}

// Create validates input and inserts a new status mapping.
func (h *StatusMappingHandler) Create(c *gin.Context) {
	var body createStatusMappingRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.ErpSystemID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "erp_system_id is required"})
		return
	}
	if strings.TrimSpace(body.SourceStatus) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source_status is required"})
		return
	}
	if strings.TrimSpace(body.TargetStatus) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target_status is required"})
		return
	}

	mapping := models.StatusMapping{
		ErpSystemID:  body.ErpSystemID,
		SourceStatus: strings.TrimSpace(body.SourceStatus),
		TargetStatus: strings.TrimSpace(body.TargetStatus),
	}
	if errCreate := h.store.CreateMapping(c.Request.Context(), &mapping); errCreate != nil {
		writeMappingError(c, errCreate)
		return
	}
	c.JSON(http.StatusCreated, formatMapping(&mapping))
}

// List returns status mappings, optionally filtered by erp_system_id.
func (h *StatusMappingHandler) List(c *gin.Context) {
	var tenantID uint64
	if raw := strings.TrimSpace(c.Query("erp_system_id")); raw != "" {
		parsed, errParse := strconv.ParseUint(raw, 10, 64)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid erp_system_id"})
			return
		}
		tenantID = parsed
	}
	rows, errList := h.store.ListMappings(c.Request.Context(), tenantID)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list status mappings failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatMapping(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"status_mappings": out})
}

// updateStatusMappingRequest captures optional fields for mapping updates.
type updateStatusMappingRequest struct {
	SourceStatus *string `json:"source_status"` // Optional ERP-native status.
	TargetStatus *string `json:"target_status"` // Optional portal-facing status.
}

// Update applies status mapping field updates.
func (h *StatusMappingHandler) Update(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var body updateStatusMappingRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	var source, target *string
	if body.SourceStatus != nil {
		s := strings.TrimSpace(*body.SourceStatus)
		if s == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "source_status cannot be empty"})
			return
		}
		source = &s
	}
	if body.TargetStatus != nil {
		t := strings.TrimSpace(*body.TargetStatus)
		if t == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "target_status cannot be empty"})
			return
		}
		target = &t
	}

	mapping, errUpdate := h.store.UpdateMapping(c.Request.Context(), id, source, target)
	if errUpdate != nil {
		writeMappingError(c, errUpdate)
		return
	}
	c.JSON(http.StatusOK, formatMapping(mapping))
}

// Delete removes a status mapping.
func (h *StatusMappingHandler) Delete(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if errDelete := h.store.DeleteMapping(c.Request.Context(), id); errDelete != nil {
		writeMappingError(c, errDelete)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func writeMappingError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, jobcache.ErrMappingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, jobcache.ErrTenantNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown erp_system_id"})
	case errors.Is(err, jobcache.ErrDuplicateMapping):
		c.JSON(http.StatusConflict, gin.H{"error": "source_status already mapped for this erp system"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status mapping update failed"})
	}
}

// formatMapping renders a status mapping.
func formatMapping(mapping *models.StatusMapping) gin.H {
	if mapping == nil {
		return gin.H{}
	}
	return gin.H{
		"id":            mapping.ID,
		"erp_system_id": mapping.ErpSystemID,
		"source_status": mapping.SourceStatus,
		"target_status": mapping.TargetStatus,
		"created_at":    mapping.CreatedAt,
		"updated_at":    mapping.UpdatedAt,
	}
}
