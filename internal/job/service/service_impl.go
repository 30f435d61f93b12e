package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/fieldops/internal/audit/domain"
	"github.com/smallbiznis/fieldops/internal/authorization"
	"github.com/smallbiznis/fieldops/internal/clock"
	customerdomain "github.com/smallbiznis/fieldops/internal/customer/domain"
	equipmentdomain "github.com/smallbiznis/fieldops/internal/equipment/domain"
	"github.com/smallbiznis/fieldops/internal/job/domain"
	orgdomain "github.com/smallbiznis/fieldops/internal/organization/domain"
	"github.com/smallbiznis/fieldops/internal/tenant"
	"github.com/smallbiznis/fieldops/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Repo          domain.Repository
	CustomerRepo  customerdomain.Repository
	EquipmentRepo equipmentdomain.Repository
	OrgRepo       orgdomain.Repository
	Authz         authorization.Service
	Clock         clock.Clock
	AuditSvc      auditdomain.Service `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	repo          domain.Repository
	customerRepo  customerdomain.Repository
	equipmentRepo equipmentdomain.Repository
	orgRepo       orgdomain.Repository
	authz         authorization.Service
	clock         clock.Clock
	auditSvc      auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("job.service"),
		genID:         p.GenID,
		repo:          p.Repo,
		customerRepo:  p.CustomerRepo,
		equipmentRepo: p.EquipmentRepo,
		orgRepo:       p.OrgRepo,
		authz:         p.Authz,
		clock:         p.Clock,
		auditSvc:      p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateJobRequest) (domain.Job, error) {
	scope, err := s.scope(ctx, authorization.ActionJobCreate)
	if err != nil {
		return domain.Job{}, err
	}

	title := strings.TrimSpace(req.Title)
	if title == "" || len([]rune(title)) > domain.MaxTitleLength {
		return domain.Job{}, domain.ErrInvalidTitle
	}
	status := strings.ToLower(strings.TrimSpace(req.Status))
	switch {
	case status == "" && req.ScheduledFor != nil:
		status = domain.StatusScheduled
	case status == "":
		status = domain.StatusDraft
	case !domain.ValidStatus(status):
		return domain.Job{}, domain.ErrInvalidStatus
	}
	customerID, err := parseOptionalID(req.CustomerID, domain.ErrInvalidCustomer)
	if err != nil {
		return domain.Job{}, err
	}
	assigneeID, err := parseOptionalID(req.AssigneeID, domain.ErrInvalidAssignee)
	if err != nil {
		return domain.Job{}, err
	}
	if err := validateDuration(req.DurationMins); err != nil {
		return domain.Job{}, err
	}

	now := s.clock.Now()
	job := domain.Job{
		ID:           s.genID.Generate(),
		OrgID:        scope.OrgID,
		CustomerID:   customerID,
		Title:        title,
		Status:       status,
		DurationMins: req.DurationMins,
		AssignedTo:   assigneeID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if req.ScheduledFor != nil {
		scheduled := req.ScheduledFor.UTC()
		job.ScheduledFor = &scheduled
	}

	err = tenant.Transaction(ctx, s.db, scope.OrgID, func(tx *gorm.DB) error {
		if customerID != nil {
			customer, err := s.customerRepo.FindByID(ctx, tx, scope.OrgID, *customerID)
			if err != nil {
				return err
			}
			if customer == nil {
				return domain.ErrInvalidCustomer
			}
		}
		if assigneeID != nil {
			if err := s.requireAssignee(ctx, tx, scope.OrgID, *assigneeID); err != nil {
				return err
			}
		}
		return s.repo.Insert(ctx, tx, &job)
	})
	if err != nil {
		return domain.Job{}, err
	}

	s.audit(ctx, scope, "job.created", job.ID, map[string]any{"status": job.Status})
	return job, nil
}

func (s *Service) List(ctx context.Context, req domain.ListJobRequest) (domain.ListJobResponse, error) {
	scope, err := s.scope(ctx, authorization.ActionJobView)
	if err != nil {
		return domain.ListJobResponse{}, err
	}
	beforeID, err := pagination.BeforeID(req.PageToken)
	if err != nil {
		return domain.ListJobResponse{}, err
	}
	status := strings.ToLower(strings.TrimSpace(req.Status))
	if status != "" && !domain.ValidStatus(status) {
		return domain.ListJobResponse{}, domain.ErrInvalidStatus
	}
	customerID, err := parseOptionalID(req.CustomerID, domain.ErrInvalidCustomer)
	if err != nil {
		return domain.ListJobResponse{}, err
	}
	assignedTo, err := parseOptionalID(req.AssignedTo, domain.ErrInvalidAssignee)
	if err != nil {
		return domain.ListJobResponse{}, err
	}
	from, err := parseInstant(req.ScheduledFrom)
	if err != nil {
		return domain.ListJobResponse{}, err
	}
	to, err := parseInstant(req.ScheduledTo)
	if err != nil {
		return domain.ListJobResponse{}, err
	}
	if from != nil && to != nil && !from.Before(*to) {
		return domain.ListJobResponse{}, domain.ErrInvalidSchedule
	}
	limit := pagination.NormalizeLimit(req.Limit)

	var items []*domain.Job
	err = tenant.Transaction(ctx, s.db, scope.OrgID, func(tx *gorm.DB) error {
		items, err = s.repo.List(ctx, tx, scope.OrgID, domain.ListFilter{
			Pattern:       tenant.ContainsPattern(req.Query),
			Status:        status,
			CustomerID:    customerID,
			AssignedTo:    assignedTo,
			ScheduledFrom: from,
			ScheduledTo:   to,
			BeforeID:      beforeID,
			Limit:         limit,
		})
		return err
	})
	if err != nil {
		return domain.ListJobResponse{}, err
	}

	items, info := pagination.Trim(items, limit, func(job *domain.Job) string {
		return job.ID.String()
	})
	resp := domain.ListJobResponse{PageInfo: info, Jobs: make([]domain.Job, 0, len(items))}
	for _, item := range items {
		resp.Jobs = append(resp.Jobs, *item)
	}
	return resp, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.Job, error) {
	scope, err := s.scope(ctx, authorization.ActionJobView)
	if err != nil {
		return domain.Job{}, err
	}
	jobID, err := parseID(id)
	if err != nil {
		return domain.Job{}, err
	}

	var job *domain.Job
	err = tenant.Transaction(ctx, s.db, scope.OrgID, func(tx *gorm.DB) error {
		job, err = s.load(ctx, tx, scope.OrgID, jobID)
		return err
	})
	if err != nil {
		return domain.Job{}, err
	}
	return *job, nil
}

func (s *Service) UpdateStatus(ctx context.Context, id string, req domain.UpdateStatusRequest) (domain.Job, error) {
	scope, err := s.scope(ctx, authorization.ActionJobUpdate)
	if err != nil {
		return domain.Job{}, err
	}
	jobID, err := parseID(id)
	if err != nil {
		return domain.Job{}, err
	}
	status := strings.ToLower(strings.TrimSpace(req.Status))
	if !domain.ValidStatus(status) {
		return domain.Job{}, domain.ErrInvalidStatus
	}

	var (
		job      *domain.Job
		previous string
	)
	err = tenant.Transaction(ctx, s.db, scope.OrgID, func(tx *gorm.DB) error {
		current, err := s.repo.FindByID(ctx, tx, scope.OrgID, jobID)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrNotFound
		}
		previous = current.Status
		if previous != status {
			if err := s.repo.UpdateStatus(ctx, tx, scope.OrgID, jobID, status, s.clock.Now()); err != nil {
				return err
			}
		}
		job, err = s.load(ctx, tx, scope.OrgID, jobID)
		return err
	})
	if err != nil {
		return domain.Job{}, err
	}

	if previous != status {
		s.audit(ctx, scope, "job.status_changed", jobID, map[string]any{"from": previous, "to": status})
	}
	return *job, nil
}

// Reschedule moves a job on the calendar. Scheduling a draft promotes it to
// scheduled and unscheduling a scheduled job returns it to draft; other
// statuses are kept.
func (s *Service) Reschedule(ctx context.Context, id string, req domain.RescheduleRequest) (domain.Job, error) {
	scope, err := s.scope(ctx, authorization.ActionJobUpdate)
	if err != nil {
		return domain.Job{}, err
	}
	jobID, err := parseID(id)
	if err != nil {
		return domain.Job{}, err
	}
	if req.Unschedule && req.ScheduledFor != nil {
		return domain.Job{}, domain.ErrInvalidSchedule
	}
	if err := validateDuration(req.DurationMins); err != nil {
		return domain.Job{}, err
	}

	var (
		job     *domain.Job
		changes map[string]any
	)
	err = tenant.Transaction(ctx, s.db, scope.OrgID, func(tx *gorm.DB) error {
		current, err := s.repo.FindByID(ctx, tx, scope.OrgID, jobID)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrNotFound
		}

		changes = applySchedule(current, req)
		if len(changes) > 0 {
			current.UpdatedAt = s.clock.Now()
			if err := s.repo.UpdateSchedule(ctx, tx, current); err != nil {
				return err
			}
		}
		job, err = s.load(ctx, tx, scope.OrgID, jobID)
		return err
	})
	if err != nil {
		return domain.Job{}, err
	}

	if len(changes) > 0 {
		s.audit(ctx, scope, "job.rescheduled", jobID, changes)
	}
	return *job, nil
}

// Assign hands the job to a member of the same organization.
func (s *Service) Assign(ctx context.Context, id string, req domain.AssignRequest) (domain.Job, error) {
	scope, err := s.scope(ctx, authorization.ActionJobUpdate)
	if err != nil {
		return domain.Job{}, err
	}
	jobID, err := parseID(id)
	if err != nil {
		return domain.Job{}, err
	}
	assigneeID, err := parseOptionalID(req.AssigneeID, domain.ErrInvalidAssignee)
	if err != nil {
		return domain.Job{}, err
	}

	var (
		job     *domain.Job
		changed bool
	)
	err = tenant.Transaction(ctx, s.db, scope.OrgID, func(tx *gorm.DB) error {
		current, err := s.repo.FindByID(ctx, tx, scope.OrgID, jobID)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrNotFound
		}
		if assigneeID != nil {
			if err := s.requireAssignee(ctx, tx, scope.OrgID, *assigneeID); err != nil {
				return err
			}
		}

		changed = !sameID(current.AssignedTo, assigneeID)
		if changed {
			if err := s.repo.UpdateAssignee(ctx, tx, scope.OrgID, jobID, assigneeID, s.clock.Now()); err != nil {
				return err
			}
		}
		job, err = s.load(ctx, tx, scope.OrgID, jobID)
		return err
	})
	if err != nil {
		return domain.Job{}, err
	}

	if changed {
		assignee := ""
		if assigneeID != nil {
			assignee = assigneeID.String()
		}
		s.audit(ctx, scope, "job.assigned", jobID, map[string]any{"assignee_id": assignee})
	}
	return *job, nil
}

func (s *Service) AddNote(ctx context.Context, id string, req domain.AddNoteRequest) (domain.JobNote, error) {
	scope, err := s.scope(ctx, authorization.ActionJobUpdate)
	if err != nil {
		return domain.JobNote{}, err
	}
	jobID, err := parseID(id)
	if err != nil {
		return domain.JobNote{}, err
	}
	body := strings.TrimSpace(req.Body)
	if body == "" || len([]rune(body)) > domain.MaxNoteLength {
		return domain.JobNote{}, domain.ErrInvalidNote
	}

	note := domain.JobNote{
		ID:        s.genID.Generate(),
		OrgID:     scope.OrgID,
		JobID:     jobID,
		AuthorID:  scope.UserID,
		Body:      body,
		CreatedAt: s.clock.Now(),
	}
	err = tenant.Transaction(ctx, s.db, scope.OrgID, func(tx *gorm.DB) error {
		if err := s.exists(ctx, tx, scope.OrgID, jobID); err != nil {
			return err
		}
		return s.repo.InsertNote(ctx, tx, &note)
	})
	if err != nil {
		return domain.JobNote{}, err
	}
	return note, nil
}

func (s *Service) ListNotes(ctx context.Context, id string) ([]domain.JobNote, error) {
	scope, err := s.scope(ctx, authorization.ActionJobView)
	if err != nil {
		return nil, err
	}
	jobID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var notes []domain.JobNote
	err = tenant.Transaction(ctx, s.db, scope.OrgID, func(tx *gorm.DB) error {
		if err := s.exists(ctx, tx, scope.OrgID, jobID); err != nil {
			return err
		}
		notes, err = s.repo.ListNotes(ctx, tx, scope.OrgID, jobID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if notes == nil {
		notes = []domain.JobNote{}
	}
	return notes, nil
}

// LinkEquipment attaches equipment of the same organization to the job.
// Linking twice is a no-op.
func (s *Service) LinkEquipment(ctx context.Context, id string, req domain.LinkEquipmentRequest) (domain.Job, error) {
	scope, err := s.scope(ctx, authorization.ActionJobUpdate)
	if err != nil {
		return domain.Job{}, err
	}
	jobID, err := parseID(id)
	if err != nil {
		return domain.Job{}, err
	}
	equipmentID, err := parseOptionalID(req.EquipmentID, domain.ErrInvalidEquipment)
	if err != nil {
		return domain.Job{}, err
	}
	if equipmentID == nil {
		return domain.Job{}, domain.ErrInvalidEquipment
	}

	var (
		job     *domain.Job
		created bool
	)
	err = tenant.Transaction(ctx, s.db, scope.OrgID, func(tx *gorm.DB) error {
		if err := s.exists(ctx, tx, scope.OrgID, jobID); err != nil {
			return err
		}
		item, err := s.equipmentRepo.FindByID(ctx, tx, scope.OrgID, *equipmentID)
		if err != nil {
			return err
		}
		if item == nil {
			return domain.ErrInvalidEquipment
		}
		created, err = s.repo.LinkEquipment(ctx, tx, &domain.JobEquipment{
			JobID:       jobID,
			EquipmentID: *equipmentID,
			OrgID:       scope.OrgID,
			CreatedAt:   s.clock.Now(),
		})
		if err != nil {
			return err
		}
		job, err = s.load(ctx, tx, scope.OrgID, jobID)
		return err
	})
	if err != nil {
		return domain.Job{}, err
	}

	if created {
		s.audit(ctx, scope, "job.equipment_linked", jobID, map[string]any{"equipment_id": equipmentID.String()})
	}
	return *job, nil
}

func (s *Service) load(ctx context.Context, tx *gorm.DB, orgID, jobID snowflake.ID) (*domain.Job, error) {
	job, err := s.repo.FindByID(ctx, tx, orgID, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, domain.ErrNotFound
	}
	job.EquipmentIDs, err = s.repo.ListEquipmentIDs(ctx, tx, orgID, jobID)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Service) exists(ctx context.Context, tx *gorm.DB, orgID, jobID snowflake.ID) error {
	job, err := s.repo.FindByID(ctx, tx, orgID, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return domain.ErrNotFound
	}
	return nil
}

// requireAssignee rejects users without a membership in orgID.
func (s *Service) requireAssignee(ctx context.Context, tx *gorm.DB, orgID, userID snowflake.ID) error {
	_, err := s.orgRepo.WithTx(tx).FindMembership(ctx, userID, orgID)
	if errors.Is(err, orgdomain.ErrMembershipNotFound) {
		return domain.ErrInvalidAssignee
	}
	return err
}

func (s *Service) scope(ctx context.Context, action string) (tenant.Scope, error) {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return tenant.Scope{}, err
	}
	if err := scope.Authorize(ctx, s.authz, authorization.ObjectJob, action); err != nil {
		return tenant.Scope{}, err
	}
	return scope, nil
}

func (s *Service) audit(ctx context.Context, scope tenant.Scope, action string, jobID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.Record(ctx, auditdomain.Entry{
		OrgID:      &scope.OrgID,
		Action:     action,
		TargetType: "job",
		TargetID:   jobID.String(),
		Metadata:   metadata,
	}); err != nil {
		s.log.Warn("failed to audit job change", zap.String("action", action), zap.Error(err))
	}
}

func parseID(value string) (snowflake.ID, error) {
	id, err := parseOptionalID(value, domain.ErrInvalidID)
	if err != nil {
		return 0, err
	}
	if id == nil {
		return 0, domain.ErrInvalidID
	}
	return *id, nil
}

func parseOptionalID(value string, invalid error) (*snowflake.ID, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	id, err := snowflake.ParseString(value)
	if err != nil || id <= 0 {
		return nil, invalid
	}
	return &id, nil
}

func applySchedule(job *domain.Job, req domain.RescheduleRequest) map[string]any {
	changes := map[string]any{}
	switch {
	case req.Unschedule && job.ScheduledFor != nil:
		job.ScheduledFor = nil
		changes["scheduled_for"] = nil
		if job.Status == domain.StatusScheduled {
			job.Status = domain.StatusDraft
			changes["status"] = job.Status
		}
	case req.ScheduledFor != nil:
		scheduled := req.ScheduledFor.UTC()
		if job.ScheduledFor == nil || !job.ScheduledFor.Equal(scheduled) {
			job.ScheduledFor = &scheduled
			changes["scheduled_for"] = scheduled.Format(time.RFC3339)
		}
		if job.Status == domain.StatusDraft {
			job.Status = domain.StatusScheduled
			changes["status"] = job.Status
		}
	}
	if req.DurationMins != nil && (job.DurationMins == nil || *job.DurationMins != *req.DurationMins) {
		duration := *req.DurationMins
		job.DurationMins = &duration
		changes["duration_mins"] = duration
	}
	return changes
}

func validateDuration(mins *int) error {
	if mins != nil && (*mins <= 0 || *mins > domain.MaxDurationMins) {
		return domain.ErrInvalidDuration
	}
	return nil
}

func parseInstant(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, domain.ErrInvalidSchedule
	}
	t = t.UTC()
	return &t, nil
}

func sameID(a, b *snowflake.ID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
