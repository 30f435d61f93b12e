package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	organizationdomain "github.com/smallbiznis/fieldops/internal/organization/domain"
	"github.com/smallbiznis/fieldops/internal/provisioning"
	"go.uber.org/zap"
)

type ensureOrgRequest struct {
	Name string `json:"name"`
}

type switchOrgRequest struct {
	OrgID string `json:"orgId"`
}

// EnsureOrg is the "fix my org" call: safe to repeat, it only ever creates
// the caller's first organization.
func (s *Server) EnsureOrg(c *gin.Context) {
	id, ok := currentIdentity(c)
	if !ok {
		tenancyError(c, http.StatusUnauthorized, provisioning.ErrUnauthenticated.Error())
		return
	}

	// An absent body, chunked or not, means no requested name.
	var req ensureOrgRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		tenancyError(c, http.StatusBadRequest, "invalid_request")
		return
	}

	result, err := s.provisioner.EnsureOrganization(c.Request.Context(), id, strings.TrimSpace(req.Name))
	if err != nil {
		if errors.Is(err, provisioning.ErrUnauthenticated) {
			tenancyError(c, http.StatusUnauthorized, provisioning.ErrUnauthenticated.Error())
			return
		}
		s.log.Error("ensure organization failed",
			zap.String("user_id", id.UserID.String()),
			zap.Error(err),
		)
		tenancyError(c, http.StatusBadRequest, provisioning.ErrPersistence.Error())
		return
	}

	statusOK(c, gin.H{
		"org_id":  result.OrgID.String(),
		"created": result.Created,
	})
}

func (s *Server) SwitchOrg(c *gin.Context) {
	id, ok := currentIdentity(c)
	if !ok {
		tenancyError(c, http.StatusUnauthorized, provisioning.ErrUnauthenticated.Error())
		return
	}

	var req switchOrgRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		tenancyError(c, http.StatusBadRequest, "invalid_request")
		return
	}
	orgID, err := snowflake.ParseString(strings.TrimSpace(req.OrgID))
	if err != nil || orgID <= 0 {
		tenancyError(c, http.StatusBadRequest, "invalid_request")
		return
	}

	err = s.switcher.SwitchActiveOrg(c.Request.Context(), id.UserID, orgID)
	switch {
	case err == nil:
		statusOK(c, gin.H{"org_id": orgID.String()})
	case errors.Is(err, organizationdomain.ErrNotAMember):
		tenancyError(c, http.StatusForbidden, organizationdomain.ErrNotAMember.Error())
	case errors.Is(err, provisioning.ErrUnauthenticated):
		tenancyError(c, http.StatusUnauthorized, provisioning.ErrUnauthenticated.Error())
	default:
		s.log.Error("switch organization failed",
			zap.String("user_id", id.UserID.String()),
			zap.String("org_id", orgID.String()),
			zap.Error(err),
		)
		tenancyError(c, http.StatusBadRequest, provisioning.ErrPersistence.Error())
	}
}
