package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/fieldops/internal/audit/domain"
	"github.com/smallbiznis/fieldops/internal/orgcontext"
)

type listAuditLogQuery struct {
	Limit     int    `form:"limit"`
	PageToken string `form:"page_token"`
	Action    string `form:"action"`
}

func (s *Server) ListAuditLogs(c *gin.Context) {
	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrForbidden)
		return
	}

	var query listAuditLogQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req := auditdomain.ListAuditLogRequest{
		OrgID:  orgID,
		Action: query.Action,
	}
	req.Limit = query.Limit
	req.PageToken = query.PageToken

	resp, err := s.auditSvc.List(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, auditdomain.ErrInvalidOrganization) || errors.Is(err, auditdomain.ErrInvalidAction) {
			AbortWithError(c, newValidationError(validationErrorField(err.Error()), err.Error(), "invalid value"))
			return
		}
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
