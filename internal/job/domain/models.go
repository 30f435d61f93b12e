package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	StatusDraft      = "draft"
	StatusScheduled  = "scheduled"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCanceled   = "canceled"
)

const (
	MaxTitleLength = 200
	MaxNoteLength  = 5000

	// MaxDurationMins caps a single visit at one week.
	MaxDurationMins = 7 * 24 * 60
)

type Job struct {
	ID           snowflake.ID  `gorm:"primaryKey" json:"id"`
	OrgID        snowflake.ID  `gorm:"not null;index" json:"org_id"`
	CustomerID   *snowflake.ID `gorm:"index" json:"customer_id,omitempty"`
	Title        string        `gorm:"type:text;not null" json:"title"`
	Status       string        `gorm:"type:text;not null;default:'draft'" json:"status"`
	ScheduledFor *time.Time    `gorm:"column:scheduled_for" json:"scheduled_for,omitempty"`
	DurationMins *int          `gorm:"column:duration_mins" json:"duration_mins,omitempty"`
	AssignedTo   *snowflake.ID `gorm:"column:assigned_to;index" json:"assigned_to,omitempty"`
	CreatedAt    time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`

	EquipmentIDs []snowflake.ID `gorm:"-" json:"equipment_ids,omitempty"`
}

func (Job) TableName() string { return "jobs" }

type JobNote struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID     snowflake.ID `gorm:"not null;index" json:"org_id"`
	JobID     snowflake.ID `gorm:"not null;index" json:"job_id"`
	AuthorID  snowflake.ID `gorm:"not null" json:"author_id"`
	Body      string       `gorm:"type:text;not null" json:"body"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (JobNote) TableName() string { return "job_notes" }

type JobEquipment struct {
	JobID       snowflake.ID `gorm:"primaryKey" json:"job_id"`
	EquipmentID snowflake.ID `gorm:"primaryKey" json:"equipment_id"`
	OrgID       snowflake.ID `gorm:"not null;index" json:"org_id"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (JobEquipment) TableName() string { return "job_equipment" }

func ValidStatus(status string) bool {
	switch status {
	case StatusDraft, StatusScheduled, StatusInProgress, StatusCompleted, StatusCanceled:
		return true
	default:
		return false
	}
}
