package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	orgdomain "github.com/smallbiznis/callquota/internal/organization/domain"
)

func (s *Server) CreateAccount(c *gin.Context) {
	var req orgdomain.CreateOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.accountSvc.Create(c.Request.Context(), orgdomain.CreateOrganizationRequest{
		Name:     strings.TrimSpace(req.Name),
		PlanTier: strings.TrimSpace(req.PlanTier),
		Metadata: req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (s *Server) ListAccounts(c *gin.Context) {
	var req orgdomain.ListOrganizationsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.accountSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetAccount(c *gin.Context) {
	resp, err := s.accountSvc.GetByID(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ChangePlan(c *gin.Context) {
	var req orgdomain.ChangePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.OrganizationID = strings.TrimSpace(c.Param("id"))

	resp, err := s.accountSvc.ChangePlan(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ArchiveAccount(c *gin.Context) {
	if err := s.accountSvc.Archive(c.Request.Context(), strings.TrimSpace(c.Param("id"))); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
