package orgcontext

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type orgContextKey struct{}

type membershipKey struct{}

// WithOrgID stores the resolved active organization for this request.
func WithOrgID(ctx context.Context, orgID snowflake.ID) context.Context {
	return context.WithValue(ctx, orgContextKey{}, orgID)
}

// OrgIDFromContext returns the active organization, if the request has one.
func OrgIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}
	id, ok := ctx.Value(orgContextKey{}).(snowflake.ID)
	if !ok || id == 0 {
		return 0, false
	}
	return id, true
}

// WithRole records the caller's role in the active organization.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, membershipKey{}, role)
}

func RoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	role, _ := ctx.Value(membershipKey{}).(string)
	return role
}
