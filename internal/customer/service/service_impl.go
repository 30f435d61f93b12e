package service

import (
	"context"
	"net/mail"
	"strings"
	"unicode"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/fieldops/internal/audit/domain"
	"github.com/smallbiznis/fieldops/internal/authorization"
	"github.com/smallbiznis/fieldops/internal/clock"
	"github.com/smallbiznis/fieldops/internal/customer/domain"
	"github.com/smallbiznis/fieldops/internal/tenant"
	"github.com/smallbiznis/fieldops/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxPhoneLength = 32

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     domain.Repository
	Authz    authorization.Service
	Clock    clock.Clock
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     domain.Repository
	authz    authorization.Service
	clock    clock.Clock
	auditSvc auditdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("customer.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		authz:    p.Authz,
		clock:    p.Clock,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateCustomerRequest) (domain.Customer, error) {
	scope, err := s.scope(ctx, authorization.ActionCustomerCreate)
	if err != nil {
		return domain.Customer{}, err
	}

	name, err := normalizeName(req.Name)
	if err != nil {
		return domain.Customer{}, err
	}
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return domain.Customer{}, err
	}
	phone, err := normalizePhone(req.Phone)
	if err != nil {
		return domain.Customer{}, err
	}
	address, err := normalizeAddress(req.Address)
	if err != nil {
		return domain.Customer{}, err
	}

	now := s.clock.Now()
	customer := domain.Customer{
		ID:        s.genID.Generate(),
		OrgID:     scope.OrgID,
		Name:      name,
		Email:     email,
		Phone:     phone,
		Address:   address,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = tenant.Transaction(ctx, s.db, scope.OrgID, func(tx *gorm.DB) error {
		return s.repo.Insert(ctx, tx, &customer)
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.audit(ctx, scope, "customer.created", customer.ID)
	return customer, nil
}

func (s *Service) List(ctx context.Context, req domain.ListCustomerRequest) (domain.ListCustomerResponse, error) {
	scope, err := s.scope(ctx, authorization.ActionCustomerView)
	if err != nil {
		return domain.ListCustomerResponse{}, err
	}

	beforeID, err := pagination.BeforeID(req.PageToken)
	if err != nil {
		return domain.ListCustomerResponse{}, err
	}
	limit := pagination.NormalizeLimit(req.Limit)

	var items []*domain.Customer
	err = tenant.Transaction(ctx, s.db, scope.OrgID, func(tx *gorm.DB) error {
		items, err = s.repo.List(ctx, tx, scope.OrgID, domain.ListFilter{
			Pattern:  tenant.ContainsPattern(req.Query),
			BeforeID: beforeID,
			Limit:    limit,
		})
		return err
	})
	if err != nil {
		return domain.ListCustomerResponse{}, err
	}

	items, info := pagination.Trim(items, limit, func(customer *domain.Customer) string {
		return customer.ID.String()
	})
	customers := make([]domain.Customer, 0, len(items))
	for _, item := range items {
		customers = append(customers, *item)
	}
	return domain.ListCustomerResponse{PageInfo: info, Customers: customers}, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.Customer, error) {
	scope, err := s.scope(ctx, authorization.ActionCustomerView)
	if err != nil {
		return domain.Customer{}, err
	}
	customerID, err := parseID(id)
	if err != nil {
		return domain.Customer{}, err
	}

	var item *domain.Customer
	err = tenant.Transaction(ctx, s.db, scope.OrgID, func(tx *gorm.DB) error {
		item, err = s.repo.FindByID(ctx, tx, scope.OrgID, customerID)
		return err
	})
	if err != nil {
		return domain.Customer{}, err
	}
	if item == nil {
		return domain.Customer{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) Update(ctx context.Context, id string, req domain.UpdateCustomerRequest) (domain.Customer, error) {
	scope, err := s.scope(ctx, authorization.ActionCustomerUpdate)
	if err != nil {
		return domain.Customer{}, err
	}
	customerID, err := parseID(id)
	if err != nil {
		return domain.Customer{}, err
	}

	var updated domain.Customer
	err = tenant.Transaction(ctx, s.db, scope.OrgID, func(tx *gorm.DB) error {
		item, err := s.repo.FindByID(ctx, tx, scope.OrgID, customerID)
		if err != nil {
			return err
		}
		if item == nil {
			return domain.ErrNotFound
		}
		if err := applyUpdate(item, req); err != nil {
			return err
		}
		item.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, tx, item); err != nil {
			return err
		}
		updated = *item
		return nil
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.audit(ctx, scope, "customer.updated", updated.ID)
	return updated, nil
}

func applyUpdate(item *domain.Customer, req domain.UpdateCustomerRequest) error {
	if req.Name != nil {
		name, err := normalizeName(*req.Name)
		if err != nil {
			return err
		}
		item.Name = name
	}
	if req.Email != nil {
		email, err := normalizeEmail(*req.Email)
		if err != nil {
			return err
		}
		item.Email = email
	}
	if req.Phone != nil {
		phone, err := normalizePhone(*req.Phone)
		if err != nil {
			return err
		}
		item.Phone = phone
	}
	if req.Address != nil {
		address, err := normalizeAddress(*req.Address)
		if err != nil {
			return err
		}
		item.Address = address
	}
	return nil
}

func (s *Service) scope(ctx context.Context, action string) (tenant.Scope, error) {
	scope, err := tenant.FromContext(ctx)
	if err != nil {
		return tenant.Scope{}, err
	}
	if err := scope.Authorize(ctx, s.authz, authorization.ObjectCustomer, action); err != nil {
		return tenant.Scope{}, err
	}
	return scope, nil
}

func (s *Service) audit(ctx context.Context, scope tenant.Scope, action string, customerID snowflake.ID) {
	if s.auditSvc == nil {
		return
	}
	if err := s.auditSvc.Record(ctx, auditdomain.Entry{
		OrgID:      &scope.OrgID,
		Action:     action,
		TargetType: "customer",
		TargetID:   customerID.String(),
	}); err != nil {
		s.log.Warn("failed to audit customer change", zap.String("action", action), zap.Error(err))
	}
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id <= 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

func normalizeName(value string) (string, error) {
	name := strings.TrimSpace(value)
	if name == "" || len([]rune(name)) > domain.MaxNameLength {
		return "", domain.ErrInvalidName
	}
	return name, nil
}

func normalizeEmail(value string) (*string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		return nil, domain.ErrInvalidEmail
	}
	return &value, nil
}

func normalizePhone(value string) (*string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if len(value) > maxPhoneLength {
		return nil, domain.ErrInvalidPhone
	}
	digits := 0
	for _, r := range value {
		switch {
		case unicode.IsDigit(r):
			digits++
		case strings.ContainsRune("+-(). ", r):
		default:
			return nil, domain.ErrInvalidPhone
		}
	}
	if digits == 0 {
		return nil, domain.ErrInvalidPhone
	}
	return &value, nil
}

func normalizeAddress(value string) (*string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if len([]rune(value)) > domain.MaxAddressLength {
		return nil, domain.ErrInvalidAddress
	}
	return &value, nil
}
