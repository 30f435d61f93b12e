// Package domain contains persistence models for organizations, memberships
// and the per-user profile that points at the active organization.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// MaxNameLength bounds organization names in runes.
const MaxNameLength = 120

const (
	SubscriptionTrialing = "trialing"
	SubscriptionActive   = "active"
	SubscriptionPastDue  = "past_due"
	SubscriptionCanceled = "canceled"
)

// Organization represents a tenant. Organizations are never deleted.
type Organization struct {
	ID                 snowflake.ID      `gorm:"primaryKey" json:"id"`
	Name               string            `gorm:"type:text;not null" json:"name"`
	Slug               string            `gorm:"type:text;not null;uniqueIndex:ux_organizations_slug" json:"slug"`
	SubscriptionStatus string            `gorm:"column:subscription_status;type:text;not null;default:'trialing'" json:"subscription_status"`
	LogoURL            *string           `gorm:"column:logo_url;type:text" json:"logo_url,omitempty"`
	Metadata           datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

// OrganizationMember represents membership of a user in an organization.
type OrganizationMember struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null;index;uniqueIndex:ux_org_user,priority:1" json:"org_id"`
	UserID    snowflake.ID `gorm:"not null;index;uniqueIndex:ux_org_user,priority:2" json:"user_id"`
	Role      string       `gorm:"type:text;not null" json:"role"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (OrganizationMember) TableName() string { return "organization_members" }

// Profile holds the per-user active organization pointer.
type Profile struct {
	UserID      snowflake.ID  `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	ActiveOrgID *snowflake.ID `gorm:"column:active_org_id" json:"active_org_id,omitempty"`
	CreatedAt   time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Profile) TableName() string { return "profiles" }

// ProvisioningClaim records the organization a user self-provisioned. The
// primary key allows one claim per user.
type ProvisioningClaim struct {
	UserID    snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"user_id"`
	OrgID     snowflake.ID `gorm:"not null" json:"org_id"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (ProvisioningClaim) TableName() string { return "provisioning_claims" }

func ValidRole(role string) bool {
	switch role {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

func ValidSubscriptionStatus(status string) bool {
	switch status {
	case SubscriptionTrialing, SubscriptionActive, SubscriptionPastDue, SubscriptionCanceled:
		return true
	}
	return false
}
