package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/fieldops/internal/authorization"
	invitationdomain "github.com/smallbiznis/fieldops/internal/invitation/domain"
	organizationdomain "github.com/smallbiznis/fieldops/internal/organization/domain"
	"github.com/smallbiznis/fieldops/internal/provisioning"
	"go.uber.org/zap"
)

const (
	loginRedirect     = "/login?next=/dashboard"
	dashboardRedirect = "/dashboard"
)

type acceptInviteRequest struct {
	Token string `json:"token"`
}

type sendInviteRequest struct {
	OrgID string `json:"orgId"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// InviteLanding is where emailed links land. Anonymous visitors get the
// token parked in a short-lived cookie until they sign in.
func (s *Server) InviteLanding(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))
	id, ok := currentIdentity(c)
	if !ok {
		if token != "" {
			s.sessions.StashInvite(c, token)
		}
		c.Redirect(http.StatusFound, loginRedirect)
		return
	}

	if _, err := s.invitationSvc.AcceptInvite(c.Request.Context(), id, token); err != nil {
		s.log.Info("invite landing rejected",
			zap.String("user_id", id.UserID.String()),
			zap.Error(err),
		)
		c.Redirect(http.StatusFound, dashboardRedirect+"?invite_error="+url.QueryEscape(inviteErrorCode(err)))
		return
	}
	c.Redirect(http.StatusFound, dashboardRedirect)
}

func (s *Server) PreviewInvite(c *gin.Context) {
	preview, err := s.invitationSvc.Preview(c.Request.Context(), c.Param("token"))
	if err != nil {
		if errors.Is(err, invitationdomain.ErrInvalidOrExpiredToken) {
			tenancyError(c, http.StatusNotFound, err.Error())
			return
		}
		s.log.Error("preview invite failed", zap.Error(err))
		tenancyError(c, http.StatusInternalServerError, "internal_error")
		return
	}
	statusOK(c, gin.H{"invite": preview})
}

func (s *Server) AcceptInvite(c *gin.Context) {
	id, ok := currentIdentity(c)
	if !ok {
		tenancyError(c, http.StatusUnauthorized, provisioning.ErrUnauthenticated.Error())
		return
	}

	var req acceptInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		tenancyError(c, http.StatusBadRequest, "invalid_request")
		return
	}

	result, err := s.invitationSvc.AcceptInvite(c.Request.Context(), id, strings.TrimSpace(req.Token))
	if err != nil {
		status, code := inviteFailure(err)
		if status == http.StatusInternalServerError {
			s.log.Error("accept invite failed", zap.Error(err))
		}
		tenancyError(c, status, code)
		return
	}

	statusOK(c, gin.H{
		"org_id": result.OrgID.String(),
		"role":   result.Role,
	})
}

func (s *Server) SendInvite(c *gin.Context) {
	id, ok := currentIdentity(c)
	if !ok {
		tenancyError(c, http.StatusUnauthorized, provisioning.ErrUnauthenticated.Error())
		return
	}

	var req sendInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		tenancyError(c, http.StatusBadRequest, "invalid_request")
		return
	}
	orgID, err := parseSnowflake(req.OrgID, "invalid_organization")
	if err != nil {
		tenancyError(c, http.StatusBadRequest, "invalid_organization")
		return
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = organizationdomain.RoleMember
	}

	result, err := s.invitationSvc.SendInvite(c.Request.Context(), invitationdomain.SendInviteRequest{
		InviterID:   id.UserID,
		InviterName: id.DisplayName,
		OrgID:       orgID,
		Email:       req.Email,
		Role:        role,
	})
	if err != nil {
		status, code := inviteFailure(err)
		if status == http.StatusInternalServerError {
			s.log.Error("send invite failed", zap.Error(err))
		}
		tenancyError(c, status, code)
		return
	}

	body := gin.H{
		"invite_id":  result.InviteID.String(),
		"invite_url": result.InviteURL,
		"rotated":    result.Rotated,
	}
	if result.ExpiresAt != nil {
		body["expires_at"] = result.ExpiresAt
	}
	statusOK(c, body)
}

func (s *Server) ListInvites(c *gin.Context) {
	id, _ := currentIdentity(c)
	orgID, err := parseSnowflake(c.Param("id"), "invalid_organization")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	invites, err := s.invitationSvc.ListPending(c.Request.Context(), id.UserID, orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if invites == nil {
		invites = []invitationdomain.InviteResponse{}
	}
	c.JSON(http.StatusOK, gin.H{"invites": invites})
}

func (s *Server) RevokeInvite(c *gin.Context) {
	id, _ := currentIdentity(c)
	orgID, err := parseSnowflake(c.Param("id"), "invalid_organization")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	inviteID, err := parseSnowflake(c.Param("inviteId"), "invalid_invite")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.invitationSvc.Revoke(c.Request.Context(), id.UserID, orgID, inviteID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// inviteFailure maps invite errors onto the {ok:false} envelope.
func inviteFailure(err error) (int, string) {
	switch {
	case errors.Is(err, provisioning.ErrUnauthenticated):
		return http.StatusUnauthorized, provisioning.ErrUnauthenticated.Error()
	case errors.Is(err, invitationdomain.ErrInvalidOrExpiredToken),
		errors.Is(err, invitationdomain.ErrInvalidEmail),
		errors.Is(err, invitationdomain.ErrInvalidRole):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, invitationdomain.ErrEmailMismatch):
		return http.StatusForbidden, invitationdomain.ErrEmailMismatch.Error()
	case errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, authorization.ErrForbidden.Error()
	case errors.Is(err, organizationdomain.ErrNotAMember):
		return http.StatusForbidden, organizationdomain.ErrNotAMember.Error()
	case errors.Is(err, invitationdomain.ErrAlreadyMember):
		return http.StatusConflict, invitationdomain.ErrAlreadyMember.Error()
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func inviteErrorCode(err error) string {
	_, code := inviteFailure(err)
	return code
}

func isInviteValidationError(err error) bool {
	return errors.Is(err, invitationdomain.ErrInvalidOrExpiredToken) ||
		errors.Is(err, invitationdomain.ErrInvalidEmail) ||
		errors.Is(err, invitationdomain.ErrInvalidRole)
}
