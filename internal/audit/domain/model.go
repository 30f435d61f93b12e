package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	ActorTypeUser   = "user"
	ActorTypeSystem = "system"
)

// AuditLog is an append-only record of a tenancy or billing change.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID      *snowflake.ID     `gorm:"column:org_id;index" json:"org_id,omitempty"`
	ActorType  string            `gorm:"column:actor_type;type:text;not null" json:"actor_type"`
	ActorID    *string           `gorm:"column:actor_id;type:text" json:"actor_id,omitempty"`
	Action     string            `gorm:"type:text;not null;index" json:"action"`
	TargetType string            `gorm:"column:target_type;type:text;not null" json:"target_type"`
	TargetID   *string           `gorm:"column:target_id;type:text" json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb;not null" json:"metadata"`
	IPAddress  *string           `gorm:"column:ip_address;type:text" json:"ip_address,omitempty"`
	UserAgent  *string           `gorm:"column:user_agent;type:text" json:"user_agent,omitempty"`
	CreatedAt  time.Time         `gorm:"not null;index" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type ListFilter struct {
	OrgID    snowflake.ID
	Action   string
	BeforeID snowflake.ID
	Limit    int
}
