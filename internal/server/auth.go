package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/fieldops/internal/auth/domain"
	"go.uber.org/zap"
)

type signupRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	Provider    string `json:"provider"`
}

type sessionResponse struct {
	User        userResponse `json:"user"`
	ExpiresAt   time.Time    `json:"expires_at"`
	ActiveOrgID string       `json:"active_org_id,omitempty"`
	InviteError string       `json:"invite_error,omitempty"`
}

func newUserResponse(u *authdomain.User) userResponse {
	return userResponse{
		ID:          u.ID.String(),
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Provider:    u.Provider,
	}
}

// Signup creates a local account, signs it in and lands it in an
// organization: the one a stashed invite points at, or a fresh one.
func (s *Server) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	user, err := s.authsvc.CreateUser(ctx, authdomain.CreateUserRequest{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.authsvc.StartSession(ctx, user, clientMeta(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.sessions.Set(c, result.RawToken, result.ExpiresAt)

	resp := s.completeSignIn(c, result)
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.authsvc.Login(c.Request.Context(), authdomain.LoginRequest{
		Email:       req.Email,
		Password:    req.Password,
		SessionMeta: clientMeta(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.sessions.Set(c, result.RawToken, result.ExpiresAt)

	c.JSON(http.StatusOK, s.completeSignIn(c, result))
}

// completeSignIn consumes a stashed invite exactly once and makes sure the
// user ends up with an active organization.
func (s *Server) completeSignIn(c *gin.Context, result *authdomain.LoginResult) sessionResponse {
	id := authdomain.IdentityFromUser(result.User)
	id.SessionID = result.SessionID
	ctx := c.Request.Context()

	resp := sessionResponse{
		User:      newUserResponse(result.User),
		ExpiresAt: result.ExpiresAt,
	}

	if token, ok := s.sessions.TakeInvite(c); ok {
		accepted, err := s.invitationSvc.AcceptInvite(ctx, id, token)
		if err != nil {
			s.log.Warn("stashed invite not accepted",
				zap.String("user_id", id.UserID.String()),
				zap.Error(err),
			)
			resp.InviteError = inviteErrorCode(err)
		} else {
			resp.ActiveOrgID = accepted.OrgID.String()
			return resp
		}
	}

	provisioned, err := s.provisioner.EnsureOrganization(context.WithoutCancel(ctx), id, "")
	if err != nil {
		// The tenant middleware retries on the next request.
		s.log.Warn("provisioning after sign-in failed",
			zap.String("user_id", id.UserID.String()),
			zap.Error(err),
		)
		return resp
	}
	resp.ActiveOrgID = provisioned.OrgID.String()
	return resp
}

func (s *Server) Logout(c *gin.Context) {
	if raw, ok := s.sessions.ReadToken(c); ok {
		if err := s.authsvc.Logout(c.Request.Context(), raw); err != nil {
			s.log.Debug("logout of unknown session", zap.Error(err))
		}
	}
	s.sessions.Clear(c)
	c.Status(http.StatusNoContent)
}

func (s *Server) Me(c *gin.Context) {
	id, _ := currentIdentity(c)
	ctx := c.Request.Context()

	user, err := s.authsvc.GetUser(ctx, id.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	orgs, err := s.organizationSvc.ListForUser(ctx, id.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	activeOrgID := ""
	for _, org := range orgs {
		if org.Active {
			activeOrgID = org.ID
			break
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"user":          newUserResponse(user),
		"active_org_id": activeOrgID,
		"organizations": orgs,
	})
}
