package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type recordUsageRequest struct {
	OrgID        string     `json:"org_id"`
	ResourceType string     `json:"resource_type"`
	ResourceID   string     `json:"resource_id"`
	OccurredAt   *time.Time `json:"occurred_at"`
}

// handleRecordUsage appends one consumption record. Recording is accepted
// even when it duplicates an earlier delivery.
func (s *Server) handleRecordUsage(c *gin.Context) {
	var req recordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	orgID, err := snowflake.ParseString(strings.TrimSpace(req.OrgID))
	if err != nil || orgID == 0 {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	occurredAt := time.Time{}
	if req.OccurredAt != nil {
		occurredAt = *req.OccurredAt
	}

	if err := s.usageSvc.Record(c.Request.Context(), orgID, req.ResourceType, req.ResourceID, occurredAt); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"recorded": true})
}
