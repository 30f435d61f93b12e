package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusRevoked  = "revoked"
)

// Invite is an outstanding offer to join an organization. Only the hash of
// the bearer token is stored.
type Invite struct {
	ID         snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID      snowflake.ID  `gorm:"not null;index" json:"org_id"`
	Email      string        `gorm:"type:text;not null" json:"email"`
	Role       string        `gorm:"type:text;not null" json:"role"`
	TokenHash  string        `gorm:"column:token_hash;type:text;not null;uniqueIndex" json:"-"`
	InvitedBy  snowflake.ID  `gorm:"column:invited_by;not null" json:"invited_by"`
	Status     string        `gorm:"type:text;not null;default:'pending'" json:"status"`
	ExpiresAt  *time.Time    `gorm:"column:expires_at" json:"expires_at,omitempty"`
	ConsumedAt *time.Time    `gorm:"column:consumed_at" json:"consumed_at,omitempty"`
	ConsumedBy *snowflake.ID `gorm:"column:consumed_by" json:"consumed_by,omitempty"`
	CreatedAt  time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Invite) TableName() string { return "organization_invites" }

// Expired reports whether a pending invite can no longer be used at now.
func (i *Invite) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && !now.Before(*i.ExpiresAt)
}
