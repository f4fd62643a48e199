package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleFeatureCheck evaluates one feature gate for the organization's
// current plan. Unknown features and missing plans both read as disabled.
func (s *Server) handleFeatureCheck(c *gin.Context) {
	orgID, ok := parseOrgID(c)
	if !ok {
		return
	}

	org, err := s.billingSvc.Organization(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	enabled := false
	if org.PlanCode != "" {
		enabled, err = s.planSvc.HasFeature(c.Request.Context(), org.PlanCode, c.Param("feature"))
		if err != nil {
			AbortWithError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"feature": c.Param("feature"),
		"enabled": enabled,
	})
}
