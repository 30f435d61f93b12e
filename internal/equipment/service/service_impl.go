package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/fieldops/internal/audit/domain"
	"github.com/smallbiznis/fieldops/internal/authorization"
	"github.com/smallbiznis/fieldops/internal/clock"
	customerdomain "github.com/smallbiznis/fieldops/internal/customer/domain"
	"github.com/smallbiznis/fieldops/internal/equipment/domain"
	"github.com/smallbiznis/fieldops/internal/tenant"
	"github.com/smallbiznis/fieldops/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Repo         domain.Repository
	CustomerRepo customerdomain.Repository
	Authz        authorization.Service
	Clock        clock.Clock
	AuditSvc     auditdomain.Service `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	repo         domain.Repository
	customerRepo customerdomain.Repository
	authz        authorization.Service
	clock        clock.Clock
	auditSvc     auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("equipment.service"),
		genID:        p.GenID,
		repo:         p.Repo,
		customerRepo: p.CustomerRepo,
		authz:        p.Authz,
		clock:        p.Clock,
		auditSvc:     p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateEquipmentRequest) (domain.Equipment, error) {
	scope, err := s.scope(ctx, authorization.ActionEquipmentCreate)
	if err != nil {
		return domain.Equipment{}, err
	}

	fields := make([]*string, 5)
	for i, raw := range []string{req.Make, req.Model, req.SerialNumber, req.Notes, req.Code} {
		if fields[i], err = normalizeField(raw); err != nil {
			return domain.Equipment{}, err
		}
	}
	if fields[0] == nil && fields[1] == nil {
		return domain.Equipment{}, domain.ErrMakeOrModelRequired
	}

	customerID, err := parseOptionalID(req.CustomerID, domain.ErrInvalidCustomer)
	if err != nil {
		return domain.Equipment{}, err
	}

	now := s.clock.Now()
	item := domain.Equipment{
		ID:           s.genID.Generate(),
		OrgID:        scope.OrgID,
		CustomerID:   customerID,
		Code:         fields[4],
		Make:         fields[0],
		Model:        fields[1],
		SerialNumber: fields[2],
		Notes:        fields[3],
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = tenant.Transaction(ctx, s.db, scope.OrgID, func(tx *gorm.DB) error {
		if err := s.requireCustomer(ctx, tx, scope.OrgID, customerID); err != nil {
			return err
		}
		return s.repo.Insert(ctx, tx, &item)
	})
	if err != nil {
		return domain.Equipment{}, err
	}

	s.audit(ctx, scope, "equipment.created", item.ID)
	return item, nil
}

func (s *Service) List(ctx context.Context, req domain.ListEquipmentRequest) (domain.ListEquipmentResponse, error) {
	scope, err := s.scope(ctx, authorization.ActionEquipmentView)
	if err != nil {
		return domain.ListEquipmentResponse{}, err
	}
	beforeID, err := pagination.BeforeID(req.PageToken)
	if err != nil {
		return domain.ListEquipmentResponse{}, err
	}
	customerID, err := parseOptionalID(req.CustomerID, domain.ErrInvalidCustomer)
	if err != nil {
		return domain.ListEquipmentResponse{}, err
	}
	limit := pagination.NormalizeLimit(req.Limit)

	var items []*domain.Equipment
	err = tenant.Transaction(ctx, s.db, scope.OrgID, func(tx *gorm.DB) error {
		items, err = s.repo.List(ctx, tx, scope.OrgID, domain.ListFilter{
			Pattern:    tenant.ContainsPattern(req.Query),
			CustomerID: customerID,
			BeforeID:   beforeID,
			Limit:      limit,
		})
		return err
	})
	if err != nil {
		return domain.ListEquipmentResponse{}, err
	}

	items, info := pagination.Trim(items, limit, func(item *domain.Equipment) string {
		return item.ID.String()
	})
	resp := domain.ListEquipmentResponse{PageInfo: info, Equipment: make([]domain.Equipment, 0, len(items))}
	for _, item := range items {
		resp.Equipment = append(resp.Equipment, *item)
	}
	return resp, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.Equipment, error) {
	scope, err := s.scope(ctx, authorization.ActionEquipmentView)
	if err != nil {
		return domain.Equipment{}, err
	}
	itemID, err := parseID(id)
	if err != nil {
		return domain.Equipment{}, err
	}

	var item *domain.Equipment
	err = tenant.Transaction(ctx, s.db, scope.OrgID, func(tx *gorm.DB) error {
		item, err = s.repo.FindByID(ctx, tx, scope.OrgID, itemID)
		return err
	})
	if err != nil {
		return domain.Equipment{}, err
	}
	if item == nil {
		return domain.Equipment{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) Update(ctx context.Context, id string, req domain.UpdateEquipmentRequest) (domain.Equipment, error) {
	scope, err := s.scope(ctx, authorization.ActionEquipmentUpdate)
	if err != nil {
		return domain.Equipment{}, err
	}
	itemID, err := parseID(id)
	if err != nil {
		return domain.Equipment{}, err
	}

	var updated domain.Equipment
	err = tenant.Transaction(ctx, s.db, scope.OrgID, func(tx *gorm.DB) error {
		item, err := s.repo.FindByID(ctx, tx, scope.OrgID, itemID)
		if err != nil {
			return err
		}
		if item == nil {
			return domain.ErrNotFound
		}
		if err := applyUpdate(item, req); err != nil {
			return err
		}
		if req.CustomerID != nil {
			if err := s.requireCustomer(ctx, tx, scope.OrgID, item.CustomerID); err != nil {
				return err
			}
		}
		item.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, item); err != nil {
			return err
		}
		updated = *item
		return nil
	})
	if err != nil {
		return domain.Equipment{}, err
	}

	s.audit(ctx, scope, "equipment.updated", itemID)
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	scope, err := s.scope(ctx, authorization.ActionEquipmentDelete)
	if err != nil {
		return err
	}
	itemID, err := parseID(id)
	if err != nil {
		return err
	}

	err = tenant.Transaction(ctx, s.db, scope.OrgID, func(tx *gorm.DB) error {
		links, err := s.repo.CountJobLinks(ctx, tx, scope.OrgID, itemID)
		if err != nil {
			return err
		}
		if links > 0 {
			return domain.ErrInUse
		}
		deleted, err := s.repo.Delete(ctx, tx, scope.OrgID, itemID)
		if err != nil {
			return err
		}
		if !deleted {
			return domain.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.audit(ctx, scope, "equipment.deleted", itemID)
	return nil
}

// requireCustomer rejects customer ids that do not belong to orgID.
func (s *Service) requireCustomer(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, customerID *snowflake.ID) error {
	if customerID == nil {
		return nil
	}
	customer, err := s.customerRepo.FindByID(ctx, tx, orgID, *customerID)
	if err != nil {
		return err
	}
	if customer == nil {
		return domain.ErrInvalidCustomer
	}
	return nil
}

func (s *Service) audit(ctx context.Context, scope tenant.Scope, action string, itemID snowflake.ID) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.Record(ctx, auditdomain.Entry{
		OrgID:      &scope.OrgID,
		Action:     action,
		TargetType: "equipment",
		TargetID:   itemID.String(),
	}); err != nil {
		s.log.Warn("failed to audit equipment", zap.String("action", action), zap.Error(err))
	}
}

func (s *Service) scope(ctx context.Context, action string) (tenant.Scope, error) {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return tenant.Scope{}, err
	}
	if err := scope.Authorize(ctx, s.authz, authorization.ObjectEquipment, action); err != nil {
		return tenant.Scope{}, err
	}
	return scope, nil
}

// parseOptionalID returns nil for a blank value and invalid for anything
// that is not a positive snowflake id.
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

func applyUpdate(item *domain.Equipment, req domain.UpdateEquipmentRequest) error {
	targets := []struct {
		raw *string
		dst **string
	}{
		{req.Make, &item.Make},
		{req.Model, &item.Model},
		{req.SerialNumber, &item.SerialNumber},
		{req.Notes, &item.Notes},
		{req.Code, &item.Code},
	}
	for _, target := range targets {
		if target.raw == nil {
			continue
		}
		value, err := normalizeField(*target.raw)
		if err != nil {
			return err
		}
		*target.dst = value
	}
	if item.Make == nil && item.Model == nil {
		return domain.ErrMakeOrModelRequired
	}
	if req.CustomerID != nil {
		customerID, err := parseOptionalID(*req.CustomerID, domain.ErrInvalidCustomer)
		if err != nil {
			return err
		}
		item.CustomerID = customerID
	}
	return nil
}

// normalizeField trims raw and maps blank to nil.
func normalizeField(raw string) (*string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}
	if len([]rune(value)) > domain.MaxFieldLength {
		return nil, domain.ErrFieldTooLong
	}
	return &value, nil
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
