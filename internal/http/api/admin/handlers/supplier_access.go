package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/leveranciersportal/portalsync/internal/access"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// SupplierAccessHandler serves the email to job access overview.
type SupplierAccessHandler struct {
	deriver *access.Deriver // Access derivation over the job cache.
}

// NewSupplierAccessHandler constructs a supplier access handler.
func NewSupplierAccessHandler(deriver *access.Deriver) *SupplierAccessHandler {
	return &SupplierAccessHandler{deriver: deriver}
}

// Overview returns the overview as JSON, or as a spreadsheet with format=xlsx.
func (h *SupplierAccessHandler) Overview(c *gin.Context) {
	entries, errOverview := h.deriver.Overview(c.Request.Context())
	if errOverview != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "supplier access overview failed"})
		return
	}
	if strings.EqualFold(strings.TrimSpace(c.Query("format")), "xlsx") {
		data, errExport := access.ExportOverviewXLSX(entries)
		if errExport != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
			return
		}
		c.Header("Content-Disposition", `attachment; filename="supplier-access.xlsx"`)
		c.Data(http.StatusOK, xlsxContentType, data)
		return
	}
	c.JSON(http.StatusOK, gin.H{"suppliers": entries})
}
