package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

// handleForceSync pulls the provider's current subscription snapshot for one
// organization and replays it through the normal event pipeline.
func (s *Server) handleForceSync(c *gin.Context) {
	orgID, ok := parseOrgID(c)
	if !ok {
		return
	}

	outcome, err := s.billingSvc.ForceSync(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": string(outcome)})
}

// handlePlansSync publishes the local plan catalog to the provider.
// Per-plan failures are reported, not fatal to the batch.
func (s *Server) handlePlansSync(c *gin.Context) {
	results, err := s.publisher.PublishAll(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) handleListInconsistencies(c *gin.Context) {
	var orgID snowflake.ID
	if raw := strings.TrimSpace(c.Query("org_id")); raw != "" {
		parsed, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		orgID = parsed
	}
	includeResolved := c.Query("include_resolved") == "true"

	rows, err := s.billingSvc.Inconsistencies(c.Request.Context(), orgID, includeResolved)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"inconsistencies": rows})
}
