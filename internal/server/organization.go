package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	organizationdomain "github.com/smallbiznis/fieldops/internal/organization/domain"
)

func (s *Server) ListOrgs(c *gin.Context) {
	id, _ := currentIdentity(c)

	orgs, err := s.organizationSvc.ListForUser(c.Request.Context(), id.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if orgs == nil {
		orgs = []organizationdomain.OrganizationListResponseItem{}
	}
	c.JSON(http.StatusOK, gin.H{"organizations": orgs})
}

// CreateOrg is the explicit "create another organization" action; the new
// organization becomes active.
func (s *Server) CreateOrg(c *gin.Context) {
	id, _ := currentIdentity(c)

	var req organizationdomain.CreateOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	org, err := s.organizationSvc.Create(c.Request.Context(), id.UserID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"organization": org})
}

func (s *Server) ActiveOrg(c *gin.Context) {
	id, _ := currentIdentity(c)
	ctx := c.Request.Context()

	orgID, found, err := s.switcher.ActiveOrg(ctx, id.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !found {
		AbortWithError(c, ErrNotFound)
		return
	}

	org, err := s.organizationSvc.Get(ctx, id.UserID, orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"organization": org})
}

func (s *Server) GetOrg(c *gin.Context) {
	id, _ := currentIdentity(c)
	orgID, err := parseSnowflake(c.Param("id"), "invalid_organization")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	org, err := s.organizationSvc.Get(c.Request.Context(), id.UserID, orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"organization": org})
}

func (s *Server) UpdateOrg(c *gin.Context) {
	id, _ := currentIdentity(c)
	orgID, err := parseSnowflake(c.Param("id"), "invalid_organization")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req organizationdomain.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	org, err := s.organizationSvc.UpdateSettings(c.Request.Context(), id.UserID, orgID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"organization": org})
}

func (s *Server) ListMembers(c *gin.Context) {
	id, _ := currentIdentity(c)
	orgID, err := parseSnowflake(c.Param("id"), "invalid_organization")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	members, err := s.organizationSvc.ListMembers(c.Request.Context(), id.UserID, orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if members == nil {
		members = []organizationdomain.MemberResponse{}
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

func isOrganizationValidationError(err error) bool {
	return errors.Is(err, organizationdomain.ErrInvalidName) ||
		errors.Is(err, organizationdomain.ErrInvalidUser) ||
		errors.Is(err, organizationdomain.ErrInvalidOrganization) ||
		errors.Is(err, organizationdomain.ErrInvalidLogoURL) ||
		errors.Is(err, organizationdomain.ErrInvalidSubscriptionStatus)
}
