package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/fieldops/internal/auth/domain"
	"github.com/smallbiznis/fieldops/internal/auth/identity"
	"github.com/smallbiznis/fieldops/internal/authorization"
	"github.com/smallbiznis/fieldops/internal/observability/obscontext"
	"github.com/smallbiznis/fieldops/internal/orgcontext"
	organizationdomain "github.com/smallbiznis/fieldops/internal/organization/domain"
	"go.uber.org/zap"
)

// HeaderOrg lets a caller target one of its other organizations for a
// single request without moving the active pointer.
const HeaderOrg = "X-Org-ID"

// ResolveIdentity attaches the caller when the request carries valid
// credentials. Anonymous and invalid credentials pass through untouched.
func (s *Server) ResolveIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := s.resolver.Resolve(c)
		if err != nil {
			if !errors.Is(err, identity.ErrNoCredentials) {
				s.log.Debug("credentials rejected", zap.Error(err))
			}
			c.Next()
			return
		}

		ctx := identity.WithIdentity(c.Request.Context(), id)
		ctx = obscontext.WithActor(ctx, "user", id.UserID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := identity.FromContext(c.Request.Context()); !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

// TenantContext binds the request to one organization: the X-Org-ID header
// when the caller is a member of it, otherwise the active organization,
// provisioning one for users that have none yet.
func (s *Server) TenantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := currentIdentity(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		ctx := c.Request.Context()

		var orgID snowflake.ID
		if raw := strings.TrimSpace(c.GetHeader(HeaderOrg)); raw != "" {
			parsed, err := snowflake.ParseString(raw)
			if err != nil || parsed <= 0 {
				AbortWithError(c, newValidationError("org_id", "invalid_org_id", "invalid organization id"))
				return
			}
			orgID = parsed
		} else {
			active, found, err := s.switcher.ActiveOrg(ctx, id.UserID)
			if err != nil {
				AbortWithError(c, err)
				return
			}
			if !found {
				result, err := s.provisioner.EnsureOrganization(ctx, id, "")
				if err != nil {
					AbortWithError(c, err)
					return
				}
				active = result.OrgID
			}
			orgID = active
		}

		member, err := s.orgRepo.FindMembership(ctx, id.UserID, orgID)
		if err != nil {
			if errors.Is(err, organizationdomain.ErrMembershipNotFound) {
				AbortWithError(c, organizationdomain.ErrNotAMember)
				return
			}
			AbortWithError(c, err)
			return
		}

		ctx = orgcontext.WithOrgID(ctx, orgID)
		ctx = orgcontext.WithRole(ctx, member.Role)
		ctx = obscontext.WithOrgID(ctx, orgID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// authorizeOrgParam gates routes addressed by /orgs/:id.
func (s *Server) authorizeOrgParam(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := currentIdentity(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		orgID, err := parseSnowflake(c.Param("id"), "invalid_organization")
		if err != nil {
			AbortWithError(c, err)
			return
		}
		ctx := c.Request.Context()
		if err := s.authzSvc.Authorize(ctx, authorization.UserActor(id.UserID), orgID, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		ctx = orgcontext.WithOrgID(ctx, orgID)
		ctx = obscontext.WithOrgID(ctx, orgID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RateLimit throttles per client IP under the named policy.
func (s *Server) RateLimit(policy string) gin.HandlerFunc {
	return func(c *gin.Context) {
		result := s.limiter.Allow(c.Request.Context(), policy, c.ClientIP())
		if result.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		}
		if !result.Allowed {
			seconds := int(math.Ceil(result.RetryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			AbortWithError(c, ErrTooManyRequests)
			return
		}
		c.Next()
	}
}

func currentIdentity(c *gin.Context) (*authdomain.Identity, bool) {
	return identity.FromContext(c.Request.Context())
}

func parseSnowflake(raw, code string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		field := strings.TrimPrefix(code, "invalid_")
		return 0, newValidationError(field, code, "invalid "+field)
	}
	return id, nil
}

// tenancyError writes the {ok:false} envelope the tenancy endpoints use.
func tenancyError(c *gin.Context, status int, code string) {
	c.AbortWithStatusJSON(status, gin.H{"ok": false, "error": code})
}

func clientMeta(c *gin.Context) authdomain.SessionMeta {
	return authdomain.SessionMeta{
		UserAgent: c.Request.UserAgent(),
		IPAddress: c.ClientIP(),
	}
}

func statusOK(c *gin.Context, body gin.H) {
	body["ok"] = true
	c.JSON(http.StatusOK, body)
}
