package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	usagedomain "github.com/smallbiznis/callquota/internal/usage/domain"
)

func (s *Server) GetUsage(c *gin.Context) {
	forceSync, err := parseOptionalBool(c.Query("force_sync"))
	if err != nil {
		AbortWithError(c, newValidationError("force_sync", "invalid_force_sync", "force_sync must be a boolean"))
		return
	}

	summary, err := s.usageSvc.GetUsage(c.Request.Context(), usagedomain.GetUsageRequest{
		OrganizationID: strings.TrimSpace(c.Param("id")),
		ForceSync:      forceSync != nil && *forceSync,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

type checkUsageRequest struct {
	Minutes float64 `json:"minutes"`
}

// CheckUsage answers whether the account may consume the requested minutes
// without recording anything.
func (s *Server) CheckUsage(c *gin.Context) {
	var req checkUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	decision, err := s.usageSvc.CanConsume(c.Request.Context(), usagedomain.CanConsumeRequest{
		OrganizationID: strings.TrimSpace(c.Param("id")),
		Minutes:        req.Minutes,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	switch {
	case decision.Allowed:
		c.JSON(http.StatusOK, decision)
	case decision.Reason == usagedomain.ReasonAccountArchived:
		AbortWithError(c, usagedomain.ErrOrganizationArchived)
	default:
		AbortWithError(c, &usagedomain.QuotaExceededError{Decision: decision})
	}
}

func (s *Server) RecordUsage(c *gin.Context) {
	var req usagedomain.RecordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.OrganizationID = strings.TrimSpace(c.Param("id"))

	result, err := s.usageSvc.RecordUsage(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

func (s *Server) ListUsageEvents(c *gin.Context) {
	var req usagedomain.ListEventsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.OrganizationID = strings.TrimSpace(c.Param("id"))

	resp, err := s.usageSvc.ListEvents(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

type reconcileUsageRequest struct {
	Force bool `json:"force"`
}

func (s *Server) ReconcileUsage(c *gin.Context) {
	var req reconcileUsageRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	result, err := s.usageSvc.Reconcile(c.Request.Context(), usagedomain.ReconcileRequest{
		OrganizationID: strings.TrimSpace(c.Param("id")),
		Force:          req.Force,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) AddOverage(c *gin.Context) {
	var req usagedomain.AddOverageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.OrganizationID = strings.TrimSpace(c.Param("id"))

	result, err := s.usageSvc.AddOverage(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, result)
}
