package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type OrganizationListItem struct {
	ID                 snowflake.ID
	Name               string
	Slug               string
	Role               string
	SubscriptionStatus string
	CreatedAt          time.Time
}

type MemberListItem struct {
	UserID      snowflake.ID
	Email       string
	DisplayName string
	Role        string
	CreatedAt   time.Time
}

// OrganizationPatch carries the settings a caller may change. Nil fields are
// left untouched.
type OrganizationPatch struct {
	Name    *string
	LogoURL *string
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateOrganization(ctx context.Context, org *Organization) error
	GetOrganization(ctx context.Context, orgID snowflake.ID) (*Organization, error)
	UpdateOrganization(ctx context.Context, orgID snowflake.ID, patch OrganizationPatch, now time.Time) error
	UpdateSubscriptionStatus(ctx context.Context, orgID snowflake.ID, status string, now time.Time) error
	SlugExists(ctx context.Context, slug string) (bool, error)

	CreateMembership(ctx context.Context, member *OrganizationMember) error
	FindMembership(ctx context.Context, userID, orgID snowflake.ID) (*OrganizationMember, error)
	FirstMembership(ctx context.Context, userID snowflake.ID) (*OrganizationMember, error)
	ListMemberships(ctx context.Context, userID snowflake.ID) ([]OrganizationListItem, error)
	ListMembers(ctx context.Context, orgID snowflake.ID) ([]MemberListItem, error)

	GetProfile(ctx context.Context, userID snowflake.ID) (*Profile, error)
	EnsureProfile(ctx context.Context, userID snowflake.ID, now time.Time) (*Profile, error)
	UpsertActiveOrg(ctx context.Context, userID, orgID snowflake.ID, now time.Time) error
	SetActiveOrgIfNull(ctx context.Context, userID, orgID snowflake.ID, now time.Time) error

	InsertProvisioningClaim(ctx context.Context, claim *ProvisioningClaim) error
	GetProvisioningClaim(ctx context.Context, userID snowflake.ID) (*ProvisioningClaim, error)
}
