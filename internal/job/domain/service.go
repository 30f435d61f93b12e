package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/fieldops/pkg/db/pagination"
)

type CreateJobRequest struct {
	Title        string     `json:"title"`
	CustomerID   string     `json:"customer_id"`
	Status       string     `json:"status"`
	ScheduledFor *time.Time `json:"scheduled_for"`
	DurationMins *int       `json:"duration_mins"`
	AssigneeID   string     `json:"assignee_id"`
}

// ListJobRequest filters jobs. ScheduledFrom and ScheduledTo are RFC 3339
// instants bounding scheduled_for as [from, to).
type ListJobRequest struct {
	pagination.Page
	Query         string `form:"q"`
	Status        string `form:"status"`
	CustomerID    string `form:"customer_id"`
	AssignedTo    string `form:"assigned_to"`
	ScheduledFrom string `form:"scheduled_from"`
	ScheduledTo   string `form:"scheduled_to"`
}

type ListJobResponse struct {
	pagination.PageInfo
	Jobs []Job `json:"jobs"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// RescheduleRequest moves a job on the calendar. Nil fields are left as
// they are; Unschedule clears scheduled_for and cannot be combined with it.
type RescheduleRequest struct {
	ScheduledFor *time.Time `json:"scheduled_for"`
	DurationMins *int       `json:"duration_mins"`
	Unschedule   bool       `json:"unschedule"`
}

// AssignRequest sets the technician. A blank AssigneeID unassigns the job.
type AssignRequest struct {
	AssigneeID string `json:"assignee_id"`
}

type AddNoteRequest struct {
	Body string `json:"body"`
}

type LinkEquipmentRequest struct {
	EquipmentID string `json:"equipment_id"`
}

type Service interface {
	Create(ctx context.Context, req CreateJobRequest) (Job, error)
	List(ctx context.Context, req ListJobRequest) (ListJobResponse, error)
	GetByID(ctx context.Context, id string) (Job, error)
	UpdateStatus(ctx context.Context, id string, req UpdateStatusRequest) (Job, error)
	Reschedule(ctx context.Context, id string, req RescheduleRequest) (Job, error)
	Assign(ctx context.Context, id string, req AssignRequest) (Job, error)
	AddNote(ctx context.Context, id string, req AddNoteRequest) (JobNote, error)
	ListNotes(ctx context.Context, id string) ([]JobNote, error)
	LinkEquipment(ctx context.Context, id string, req LinkEquipmentRequest) (Job, error)
}

var (
	ErrInvalidTitle     = errors.New("invalid_title")
	ErrInvalidStatus    = errors.New("invalid_status")
	ErrInvalidID        = errors.New("invalid_id")
	ErrInvalidCustomer  = errors.New("invalid_customer")
	ErrInvalidEquipment = errors.New("invalid_equipment")
	ErrInvalidNote      = errors.New("invalid_note")
	ErrInvalidSchedule  = errors.New("invalid_schedule")
	ErrInvalidDuration  = errors.New("invalid_duration")
	ErrInvalidAssignee  = errors.New("invalid_assignee")
	ErrNotFound         = errors.New("job_not_found")
)
