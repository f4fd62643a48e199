package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

func parseOrgID(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		AbortWithError(c, ErrInvalidRequest)
		return 0, false
	}
	return id, true
}

func (s *Server) handleQuotaCheck(c *gin.Context) {
	orgID, ok := parseOrgID(c)
	if !ok {
		return
	}

	decision, err := s.quotaSvc.Check(c.Request.Context(), orgID, c.Param("resource"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

type reserveRequest struct {
	ResourceID string `json:"resource_id"`
}

func (s *Server) handleQuotaReserve(c *gin.Context) {
	orgID, ok := parseOrgID(c)
	if !ok {
		return
	}

	var req reserveRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	decision, err := s.quotaSvc.Reserve(c.Request.Context(), orgID, c.Param("resource"), strings.TrimSpace(req.ResourceID))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if !decision.Allowed {
		status = http.StatusForbidden
	}
	c.JSON(status, decision)
}
