package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/leveranciersportal/portalsync/internal/erp"
)

// parseIDParam reads a positive numeric path parameter, writing a 400 on failure.
func parseIDParam(c *gin.Context, name string) (uint64, bool) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param(name)), 10, 64)
	if errParse != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// writeUpstreamError maps ERP client failures onto gateway-style responses.
func writeUpstreamError(c *gin.Context, err error) {
	if upstream, ok := erp.AsUpstreamError(err); ok {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":           "erp request failed",
			"upstream_status": upstream.StatusCode,
		})
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": "erp unreachable"})
}
