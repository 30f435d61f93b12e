// Package tenant carries the organization a tenant-data request runs
// against and the helpers every org-scoped store shares.
package tenant

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldops/internal/auth/identity"
	"github.com/smallbiznis/fieldops/internal/authorization"
	"github.com/smallbiznis/fieldops/internal/orgcontext"
	"github.com/smallbiznis/fieldops/pkg/rls"
	"gorm.io/gorm"
)

var (
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrNoActiveOrganization = errors.New("no_active_organization")
)

// Scope is the caller and the organization its request is bound to.
type Scope struct {
	OrgID  snowflake.ID
	UserID snowflake.ID
}

// FromContext reads the scope the tenant middleware resolved.
func FromContext(ctx context.Context) (Scope, error) {
	id, ok := identity.FromContext(ctx)
	if !ok || id.UserID == 0 {
		return Scope{}, ErrUnauthenticated
	}
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok {
		return Scope{}, ErrNoActiveOrganization
	}
	return Scope{OrgID: orgID, UserID: id.UserID}, nil
}

// Authorize checks action on object for the scoped user in the scoped
// organization.
func (s Scope) Authorize(ctx context.Context, authz authorization.Service, object, action string) error {
	return authz.Authorize(ctx, authorization.UserActor(s.UserID), s.OrgID, object, action)
}

// Transaction runs fn in a transaction pinned to orgID for row-level
// security.
func Transaction(ctx context.Context, db *gorm.DB, orgID snowflake.ID, fn func(tx *gorm.DB) error) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithTenant(tx, orgID.Int64()); err != nil {
			return err
		}
		return fn(tx)
	})
}

// LikeEscape is the escape character ContainsPattern uses.
const LikeEscape = "!"

// ContainsPattern turns a search term into a lower-cased LIKE pattern that
// matches the term anywhere. Use it with `LOWER(col) LIKE ? ESCAPE '!'`.
func ContainsPattern(q string) string {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return ""
	}
	replacer := strings.NewReplacer(LikeEscape, LikeEscape+LikeEscape, "%", LikeEscape+"%", "_", LikeEscape+"_")
	return "%" + replacer.Replace(q) + "%"
}
