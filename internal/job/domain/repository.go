package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	Pattern    string
	Status     string
	CustomerID *snowflake.ID
	AssignedTo *snowflake.ID
	BeforeID   snowflake.ID
	Limit      int

	// ScheduledFrom is inclusive, ScheduledTo exclusive.
	ScheduledFrom *time.Time
	ScheduledTo   *time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, job *Job) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Job, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, status string, now time.Time) error
	UpdateSchedule(ctx context.Context, db *gorm.DB, job *Job) error
	UpdateAssignee(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, assignee *snowflake.ID, now time.Time) error
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter ListFilter) ([]*Job, error)

	InsertNote(ctx context.Context, db *gorm.DB, note *JobNote) error
	ListNotes(ctx context.Context, db *gorm.DB, orgID, jobID snowflake.ID) ([]JobNote, error)

	// LinkEquipment reports false when the link already existed.
	LinkEquipment(ctx context.Context, db *gorm.DB, link *JobEquipment) (bool, error)
	ListEquipmentIDs(ctx context.Context, db *gorm.DB, orgID, jobID snowflake.ID) ([]snowflake.ID, error)
}
