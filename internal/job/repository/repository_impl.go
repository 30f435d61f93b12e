package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldops/internal/job/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, job *domain.Job) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO jobs (id, org_id, customer_id, title, status, scheduled_for, duration_mins, assigned_to, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.OrgID,
		job.CustomerID,
		job.Title,
		job.Status,
		job.ScheduledFor,
		job.DurationMins,
		job.AssignedTo,
		job.CreatedAt,
		job.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Job, error) {
	var job domain.Job
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, customer_id, title, status, scheduled_for, duration_mins, assigned_to, created_at, updated_at
		 FROM jobs WHERE org_id = ? AND id = ?`,
		orgID,
		id,
	).Scan(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == 0 {
		return nil, nil
	}
	return &job, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, status string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE jobs SET status = ?, updated_at = ? WHERE org_id = ? AND id = ?`,
		status,
		now,
		orgID,
		id,
	).Error
}

func (r *repo) UpdateSchedule(ctx context.Context, db *gorm.DB, job *domain.Job) error {
	return db.WithContext(ctx).Exec(
		`UPDATE jobs
		 SET status = ?, scheduled_for = ?, duration_mins = ?, updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		job.Status,
		job.ScheduledFor,
		job.DurationMins,
		job.UpdatedAt,
		job.OrgID,
		job.ID,
	).Error
}

func (r *repo) UpdateAssignee(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, assignee *snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE jobs SET assigned_to = ?, updated_at = ? WHERE org_id = ? AND id = ?`,
		assignee,
		now,
		orgID,
		id,
	).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter domain.ListFilter) ([]*domain.Job, error) {
	var jobs []*domain.Job
	stmt := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("org_id = ?", orgID)
	if filter.Pattern != "" {
		stmt = stmt.Where("LOWER(title) LIKE ? ESCAPE '!'", filter.Pattern)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.CustomerID != nil {
		stmt = stmt.Where("customer_id = ?", *filter.CustomerID)
	}
	if filter.AssignedTo != nil {
		stmt = stmt.Where("assigned_to = ?", *filter.AssignedTo)
	}
	if filter.ScheduledFrom != nil {
		stmt = stmt.Where("scheduled_for >= ?", *filter.ScheduledFrom)
	}
	if filter.ScheduledTo != nil {
		stmt = stmt.Where("scheduled_for < ?", *filter.ScheduledTo)
	}
	if filter.BeforeID != 0 {
		stmt = stmt.Where("id < ?", filter.BeforeID)
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Order("id desc").Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *repo) InsertNote(ctx context.Context, db *gorm.DB, note *domain.JobNote) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO job_notes (id, org_id, job_id, author_id, body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		note.ID,
		note.OrgID,
		note.JobID,
		note.AuthorID,
		note.Body,
		note.CreatedAt,
	).Error
}

func (r *repo) ListNotes(ctx context.Context, db *gorm.DB, orgID, jobID snowflake.ID) ([]domain.JobNote, error) {
	var notes []domain.JobNote
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, job_id, author_id, body, created_at
		 FROM job_notes
		 WHERE org_id = ? AND job_id = ?
		 ORDER BY id ASC`,
		orgID,
		jobID,
	).Scan(&notes).Error
	if err != nil {
		return nil, err
	}
	return notes, nil
}

func (r *repo) LinkEquipment(ctx context.Context, db *gorm.DB, link *domain.JobEquipment) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}, {Name: "equipment_id"}},
			DoNothing: true,
		}).
		Create(link)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListEquipmentIDs(ctx context.Context, db *gorm.DB, orgID, jobID snowflake.ID) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).
		Model(&domain.JobEquipment{}).
		Where("org_id = ? AND job_id = ?", orgID, jobID).
		Order("created_at ASC").
		Order("equipment_id ASC").
		Pluck("equipment_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
